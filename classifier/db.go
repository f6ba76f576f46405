package classifier

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/gravwell/netfpd/asn"
)

// stringToPort is analysis.h's fixed port-name dictionary, used to turn
// fingerprint_db.json's classes_port_applications string keys back into
// numeric ports for the update table.
var stringToPort = map[string]uint16{
	"unknown":    0,
	"https":      443,
	"database":   448,
	"email":      465,
	"nntp":       563,
	"shell":      614,
	"ldap":       636,
	"ftp":        989,
	"nas":        991,
	"telnet":     992,
	"irc":        994,
	"alt-https":  1443,
	"docker":     2376,
	"tor":        8001,
}

// portRemap collapses a raw destination port onto the canonical set
// analysis.h's remap_port table names; unlisted ports remap to 0
// ("unknown").
var portRemap = map[uint16]uint16{
	443: 443, 448: 448, 465: 465, 563: 563, 585: 465,
	614: 614, 636: 636, 989: 989, 990: 989, 991: 991,
	992: 992, 993: 465, 994: 994, 995: 465, 1443: 1443,
	2376: 2376, 8001: 8001, 8443: 1443,
	9000: 8001, 9001: 8001, 9002: 8001, 9101: 8001,
}

func remapPort(dstPort uint16) uint16 {
	if v, ok := portRemap[dstPort]; ok {
		return v
	}
	return 0
}

// dbProcessInfo mirrors one element of fingerprint_db.json's
// process_info array.
type dbProcessInfo struct {
	Process                 string            `json:"process"`
	Count                   uint64            `json:"count"`
	Malware                 *bool             `json:"malware"`
	ClassesHostnameDomains  map[string]uint64 `json:"classes_hostname_domains"`
	ClassesIPAS             map[string]uint64 `json:"classes_ip_as"`
	ClassesPortApplications map[string]uint64 `json:"classes_port_applications"`
	ClassesIPIP             map[string]uint64 `json:"classes_ip_ip"`
	ClassesHostnameSNI      map[string]uint64 `json:"classes_hostname_sni"`
	OSInfo                  map[string]uint64 `json:"os_info"`
}

type dbLine struct {
	StrRepr     string          `json:"str_repr"`
	TotalCount  uint64          `json:"total_count"`
	ProcessInfo []dbProcessInfo `json:"process_info"`
}

// DB is the loaded, query-ready fingerprint/process database plus the
// prevalence set and ASN table it was built against.
type DB struct {
	fpdb        map[string]*fingerprintData
	prevalence  *Prevalence
	subnets     *asn.Table
	malwareDB   bool
	version     string
}

// LoadOptions mirrors the threshold/reporting knobs config.Config exposes
// to analysis_init_from_archive.
type LoadOptions struct {
	FPProcThreshold float64
	ProcDstThreshold float64
	ReportOS        bool
}

// NewDB constructs an empty DB wired to the given ASN table and adaptive
// prevalence LRU capacity. Callers populate it via LoadPrevalenceLine /
// LoadFingerprintDBLine / LoadSubnetLine while walking archive entries, as
// mercury's classifier constructor walks the resource archive's entries.
func NewDB(subnets *asn.Table, adaptiveCapacity int) *DB {
	return &DB{
		fpdb:       make(map[string]*fingerprintData),
		prevalence: NewPrevalence(adaptiveCapacity),
		subnets:    subnets,
	}
}

// LoadPrevalence seeds the static known-fingerprint set from
// fp_prevalence_tls.txt, one fingerprint string per line.
func (db *DB) LoadPrevalence(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		db.prevalence.InitialAdd(line)
	}
	return sc.Err()
}

// LoadVersion records the resource archive's VERSION entry.
func (db *DB) LoadVersion(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	db.version = string(b)
	return nil
}

// LoadSubnets feeds pyasn.db lines (already-parsed ASN table assumed
// built separately) -- present for symmetry with the other Load* methods;
// netfpd builds the ASN table via asn.Table.Load directly from the same
// archive entry bytes instead of duplicating that parse here.
func (db *DB) LoadSubnets(r io.Reader) error {
	return db.subnets.Load(r)
}

// LoadFingerprintDB parses fingerprint_db.json, a newline-delimited JSON
// stream, applying opts' thresholds exactly as analysis.h's
// process_fp_db_line does.
func (db *DB) LoadFingerprintDB(r io.Reader, opts LoadOptions) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var dl dbLine
		if err := json.Unmarshal(line, &dl); err != nil {
			return fmt.Errorf("classifier: malformed fingerprint_db line: %w", err)
		}
		db.compileLine(dl, opts)
	}
	return sc.Err()
}

func (db *DB) compileLine(dl dbLine, opts LoadOptions) {
	var processes []processInfo
	kept := 0 // counts processes retained so far, mirroring analysis.h's process_number

	for _, x := range dl.ProcessInfo {
		malware := false
		if x.Malware != nil {
			db.malwareDB = true
			malware = *x.Malware
		}

		// do not load process into memory if prevalence is below
		// threshold, unless it is one of the first two retained
		// processes or flagged as malware.
		if kept > 1 && dl.TotalCount > 0 && float64(x.Count)/float64(dl.TotalCount) < opts.FPProcThreshold && !malware {
			continue
		}
		kept++

		p := processInfo{
			Name:    x.Process,
			Malware: malware,
			Count:   x.Count,
		}

		if x.ClassesHostnameDomains != nil {
			p.HostnameDomains = filterStringCounts(x.ClassesHostnameDomains, x.Count, opts.ProcDstThreshold)
		}
		if x.ClassesIPAS != nil {
			p.IPAS = make(map[uint32]uint64)
			for k, v := range x.ClassesIPAS {
				if x.Count == 0 || float64(v)/float64(x.Count) <= opts.ProcDstThreshold {
					continue
				}
				if k == "unknown" {
					continue
				}
				n, err := strconv.ParseUint(k, 10, 32)
				if err != nil {
					continue
				}
				p.IPAS[uint32(n)] = v
			}
		}
		if x.ClassesPortApplications != nil {
			p.PortApplications = make(map[uint16]uint64)
			for k, v := range x.ClassesPortApplications {
				if x.Count == 0 || float64(v)/float64(x.Count) <= opts.ProcDstThreshold {
					continue
				}
				port, ok := stringToPort[k]
				if !ok {
					continue
				}
				p.PortApplications[port] = v
			}
		}
		if x.ClassesIPIP != nil {
			p.IPIP = filterStringCounts(x.ClassesIPIP, x.Count, opts.ProcDstThreshold)
		}
		if x.ClassesHostnameSNI != nil {
			p.HostnameSNI = filterStringCounts(x.ClassesHostnameSNI, x.Count, opts.ProcDstThreshold)
		}
		if opts.ReportOS && x.OSInfo != nil {
			p.OSInfo = make(map[string]uint64)
			for k, v := range x.OSInfo {
				if k == "" {
					continue
				}
				p.OSInfo[k] = v
			}
		}

		processes = append(processes, p)
	}

	db.fpdb[dl.StrRepr] = compileFingerprintData(dl.TotalCount, processes)
}

func filterStringCounts(m map[string]uint64, count uint64, threshold float64) map[string]uint64 {
	out := make(map[string]uint64)
	for k, v := range m {
		if count == 0 || float64(v)/float64(count) <= threshold {
			continue
		}
		out[k] = v
	}
	return out
}

// compileFingerprintData builds the query-ready fingerprintData for one
// fingerprint's process vector, following analysis.h's fingerprint_data
// constructor: a log-prior per process plus per-feature update tables.
func compileFingerprintData(totalCount uint64, processes []processInfo) *fingerprintData {
	fd := &fingerprintData{
		totalCount:    totalCount,
		asUpdates:     make(map[uint32][]update),
		portUpdates:   make(map[uint16][]update),
		domainUpdates: make(map[string][]update),
		ipipUpdates:   make(map[string][]update),
		sniUpdates:    make(map[string][]update),
	}
	if totalCount == 0 {
		return fd
	}
	basePrior := math.Log(1.0 / float64(totalCount))

	for idx, p := range processes {
		fd.processName = append(fd.processName, p.Name)
		fd.malware = append(fd.malware, p.Malware)

		var osInfo []OSInfoEntry
		for os, count := range p.OSInfo {
			osInfo = append(osInfo, OSInfoEntry{OS: os, Count: count})
		}
		fd.processOSInfo = append(fd.processOSInfo, osInfo)

		procPrior := math.Log(0.1)
		probProcessGivenFP := float64(p.Count) / float64(totalCount)
		score := math.Log(probProcessGivenFP)
		fd.processProb = append(fd.processProb, math.Max(score, procPrior)+basePrior*(asWeight+domainWeight+portWeight+ipWeight+sniWeight))

		for as, count := range p.IPAS {
			v := (math.Log(float64(count)/float64(totalCount)) - basePrior) * asWeight
			fd.asUpdates[as] = append(fd.asUpdates[as], update{index: idx, value: v})
		}
		for domain, count := range p.HostnameDomains {
			v := (math.Log(float64(count)/float64(totalCount)) - basePrior) * domainWeight
			fd.domainUpdates[domain] = append(fd.domainUpdates[domain], update{index: idx, value: v})
		}
		for port, count := range p.PortApplications {
			v := (math.Log(float64(count)/float64(totalCount)) - basePrior) * portWeight
			fd.portUpdates[port] = append(fd.portUpdates[port], update{index: idx, value: v})
		}
		for ip, count := range p.IPIP {
			v := (math.Log(float64(count)/float64(totalCount)) - basePrior) * ipWeight
			fd.ipipUpdates[ip] = append(fd.ipipUpdates[ip], update{index: idx, value: v})
		}
		for sni, count := range p.HostnameSNI {
			v := (math.Log(float64(count)/float64(totalCount)) - basePrior) * sniWeight
			fd.sniUpdates[sni] = append(fd.sniUpdates[sni], update{index: idx, value: v})
		}
	}

	return fd
}

// Version returns the resource archive's VERSION entry contents.
func (db *DB) Version() string { return db.version }

// MalwareDB reports whether any loaded fingerprint carries malware
// labels, switching the scorer into "malware mode" (analysis.h's
// MALWARE_DB flag).
func (db *DB) MalwareDB() bool { return db.malwareDB }
