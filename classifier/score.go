package classifier

import "math"

// Analyze scores an observed TLS fingerprint against destination context,
// following analysis.h's classifier::perform_analysis /
// fingerprint_data::perform_analysis exactly: a database miss consults
// the prevalence sets (randomized vs. unlabeled), a hit runs the
// log-probability update and generic-DMZ tie-break.
func (db *DB) Analyze(fpStr, serverName, dstIP string, dstPort uint16) Result {
	fd, ok := db.fpdb[fpStr]
	if !ok {
		if db.prevalence.Contains(fpStr) {
			db.prevalence.Update(fpStr)
			return Result{Status: StatusRandomized}
		}
		db.prevalence.Update(fpStr)
		return Result{Status: StatusUnlabeled}
	}
	return fd.analyze(db, serverName, dstIP, dstPort)
}

func (fd *fingerprintData) analyze(db *DB, serverName, dstIP string, dstPort uint16) Result {
	if len(fd.processProb) == 0 {
		return Result{Status: StatusNoInfo}
	}

	asnInt := db.subnets.Lookup(dstIP)
	portApp := remapPort(dstPort)
	domain := topTwoDomain(serverName)

	score := make([]float64, len(fd.processProb))
	copy(score, fd.processProb)

	applyUpdates(score, fd.asUpdates[asnInt])
	applyUpdates(score, fd.portUpdates[portApp])
	applyUpdates(score, fd.domainUpdates[domain])
	applyUpdates(score, fd.ipipUpdates[dstIP])
	applyUpdates(score, fd.sniUpdates[serverName])

	indexMax, indexSec := 0, 0
	maxScore, secScore := math.Inf(-1), math.Inf(-1)
	for i, s := range score {
		if s > maxScore {
			secScore, indexSec = maxScore, indexMax
			maxScore, indexMax = s, i
		} else if s > secScore {
			secScore, indexSec = s, i
		}
	}

	scoreSum := 0.0
	malwareMass := 0.0
	for i := range score {
		score[i] = math.Exp(score[i])
		scoreSum += score[i]
		if fd.malware[i] {
			malwareMass += score[i]
		}
	}
	maxScore = score[indexMax]
	secScore = score[indexSec]

	if db.malwareDB && fd.processName[indexMax] == "generic dmz process" && !fd.malware[indexSec] {
		indexMax = indexSec
		scoreSum -= maxScore
		maxScore = secScore
	}

	probability := maxScore
	malwareProb := malwareMass
	if scoreSum > 0.0 {
		probability = maxScore / scoreSum
		if db.malwareDB {
			malwareProb = malwareMass / scoreSum
		}
	}

	res := Result{
		Status:             StatusLabeled,
		Process:            fd.processName[indexMax],
		Probability:        probability,
		IsMalwareDB:        db.malwareDB,
		Malware:            fd.malware[indexMax],
		MalwareProbability: malwareProb,
	}
	if indexMax < len(fd.processOSInfo) {
		res.OSInfo = fd.processOSInfo[indexMax]
	}
	return res
}

func applyUpdates(score []float64, updates []update) {
	for _, u := range updates {
		score[u.index] += u.value
	}
}

// topTwoDomain finds the second-to-last '.' and returns the substring
// after it, e.g. "s3.amazonaws.com" -> "amazonaws.com". If
// there's only one label, the whole string is returned (analysis.h's
// get_tld_domain_name).
func topTwoDomain(serverName string) string {
	var sep, prevSep = -1, -1
	for i, c := range serverName {
		if c == '.' {
			if sep >= 0 {
				prevSep = sep
			}
			sep = i
		}
	}
	if prevSep >= 0 {
		return serverName[prevSep+1:]
	}
	return serverName
}
