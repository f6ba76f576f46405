// Package processor implements the stateful packet processor (spec
// section 4.8): the per-worker orchestrator that drives the protocol
// parsers, flow tables, TCP reassembler, and classifier to emit one JSON
// record per observed event. It is grounded on pkt_proc.h/pkt_proc.cc's
// stateful_pkt_proc::process_packet and ::write_json: every packet
// produces exactly one record or none, and no parser failure ever halts
// the processor (spec section 7).
package processor

import (
	"fmt"

	"github.com/gravwell/netfpd/classifier"
	"github.com/gravwell/netfpd/config"
	"github.com/gravwell/netfpd/internal/datum"
	"github.com/gravwell/netfpd/internal/flowkey"
	"github.com/gravwell/netfpd/internal/gwlog"
	"github.com/gravwell/netfpd/internal/proto/dhcp"
	"github.com/gravwell/netfpd/internal/proto/dns"
	"github.com/gravwell/netfpd/internal/proto/dtls"
	"github.com/gravwell/netfpd/internal/proto/eth"
	"github.com/gravwell/netfpd/internal/proto/http"
	"github.com/gravwell/netfpd/internal/proto/ipnet"
	"github.com/gravwell/netfpd/internal/proto/quic"
	"github.com/gravwell/netfpd/internal/proto/ssh"
	"github.com/gravwell/netfpd/internal/proto/tcp"
	"github.com/gravwell/netfpd/internal/proto/tls"
	"github.com/gravwell/netfpd/internal/proto/udp"
	"github.com/gravwell/netfpd/internal/proto/wireguard"
	"github.com/gravwell/netfpd/probe"

	"github.com/gravwell/netfpd/flowtable"
	"github.com/gravwell/netfpd/reassembly"
)

// Processor is one worker's packet-processing pipeline: its own packet
// filter, flow tables, and reassembler, matching section 5's "one
// packet-processor instance per worker thread, no shared mutable state
// except the read-only DB and the prevalence LRU" scheduling model.
type Processor struct {
	cfg    config.Config
	filter config.Filter
	lg     *gwlog.Logger
	db     *classifier.DB // nil when do_analysis is off

	enableGRE bool

	ipTable  *flowtable.IPTable
	tcpTable *flowtable.TCPTable
	reasm    *reassembly.Reassembler
}

// New constructs a worker-local Processor after running cfg.Validate. db
// may be nil; if cfg.DoAnalysis is set without a db, Process omits the
// analysis object from its records rather than panicking, matching the
// "total, never throws" processing contract.
func New(cfg config.Config, lg *gwlog.Logger, db *classifier.DB) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	filter, err := cfg.Filter()
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	if lg == nil {
		lg = gwlog.Discard()
	}
	return &Processor{
		cfg:       cfg,
		filter:    filter,
		lg:        lg,
		db:        db,
		enableGRE: cfg.EnableGRE,
		ipTable:   flowtable.NewIPTable(flowtable.DefaultCapacity),
		tcpTable: flowtable.NewTCPTable(flowtable.DefaultCapacity),
		reasm:    reassembly.New(reassembly.DefaultCapacity, reassembly.DefaultTTLSeconds),
	}, nil
}

// record is the in-flight JSON record being assembled for one event; it
// mirrors the key/value groups write_json populates before serialising.
type record struct {
	key        flowkey.Key
	ts         int64 // nanoseconds since epoch
	fps        map[string]string
	metaFn     func(o *datum.Obj)
	analysis   *classifier.Result
	serverName string
}

// Process runs one captured packet (already timestamped by the caller,
// ts in nanoseconds since the epoch) through the full pipeline and
// returns one newline-terminated JSON record, or nil if nothing is
// emitted (parser failure, filtered-out protocol, or a truncated/
// malformed packet -- spec section 7's "every input produces exactly
// one record or no record").
func (p *Processor) Process(ts int64, pkt []byte) []byte {
	peeled, ok := eth.Peel(pkt)
	if !ok {
		return nil
	}

	ipr, ok := ipnet.Peel(uint16(peeled.EtherType), peeled.Payload, p.enableGRE)
	if !ok {
		return nil
	}

	const (
		protoTCP = 6
		protoUDP = 17
	)

	switch ipr.Protocol {
	case protoTCP:
		return p.processTCP(ts, ipr.Key, ipr.Payload)
	case protoUDP:
		return p.processUDP(ts, ipr.Key, ipr.Payload)
	default:
		return nil
	}
}

func (p *Processor) processTCP(ts int64, key flowkey.Key, payload []byte) []byte {
	hdr, ok := tcp.Parse(payload)
	if !ok {
		return nil
	}
	key.SrcPort, key.DstPort = hdr.SrcPort, hdr.DstPort

	if hdr.SYN {
		p.tcpTable.SynPacket(key, ts, hdr.Seq)
		out := p.emitTCPSyn(key, ts, hdr)
		p.reasm.Reap(ts) // every reassembler touch surfaces one expired partial
		return out
	}

	if len(hdr.Payload) == 0 {
		p.reasm.Reap(ts)
		return nil
	}
	defer p.reasm.Reap(ts)

	// Fast path: this segment might complete an already-pending reassembly.
	if buf, complete := p.reasm.CheckPacket(key, ts, hdr.Seq, hdr.Payload); complete {
		return p.emitTCPHandshake(key, ts, hdr, buf)
	}

	needed := tlsAdditionalBytesNeeded(hdr.Payload)
	if needed > 0 {
		if buf, complete := p.reasm.CopyPacket(key, ts, hdr.Seq, hdr.Payload, needed); complete {
			return p.emitTCPHandshake(key, ts, hdr, buf)
		}
		return nil // stashed, awaiting the rest of the handshake
	}

	return p.emitTCPHandshake(key, ts, hdr, hdr.Payload)
}

// emitTCPSyn optionally reports the TCP-SYN stack fingerprint (spec section
// 4.8 step 3's "optionally emit a TCP-SYN fingerprint record"), gated on the
// "tcp" packet filter token the way every other protocol record is gated.
func (p *Processor) emitTCPSyn(key flowkey.Key, ts int64, hdr tcp.Header) []byte {
	if !p.filter.Enabled("tcp") {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["tcp"] = hdr.Fingerprint()
	if p.cfg.MetadataOutput {
		window := hdr.Window
		r.metaFn = func(o *datum.Obj) {
			tcpObj := o.Object("tcp")
			tcpObj.KeyUint("window", uint64(window))
			tcpObj.Close()
		}
	}
	return p.render(r)
}

// tlsAdditionalBytesNeeded probes whether payload looks like the start of
// a TLS record whose fragment is still incomplete, without committing to
// a full parse. Only TLS reassembly is modeled; HTTP/SSH/DHCP first-
// flight messages are small enough to assume single-segment in practice,
// matching the reference's reassembly scope (TLS/DTLS handshakes are the
// only messages mercury reassembles across TCP segments).
func tlsAdditionalBytesNeeded(payload []byte) int {
	if !tls.IsValid(payload) {
		return 0
	}
	d := datum.New(payload)
	_, needed, ok := tls.ParseRecord(&d)
	if ok && needed > 0 {
		return needed
	}
	return 0
}

// emitTCPHandshake classifies and parses a (possibly reassembled) TCP
// handshake buffer and renders its JSON record. hdr is the segment that
// triggered this call (the final one, when reassembly was involved), used
// only for the unknown-data fallback's sequence-number bookkeeping.
func (p *Processor) emitTCPHandshake(key flowkey.Key, ts int64, hdr tcp.Header, buf []byte) []byte {
	switch probe.ProbeTCP(buf) {
	case probe.TCPTLSClientHello:
		return p.emitTLSClientHello(key, ts, buf)
	case probe.TCPTLSServerHello, probe.TCPTLSCertificate:
		return p.emitTLSServer(key, ts, buf)
	case probe.TCPHTTPRequest:
		return p.emitHTTPRequest(key, ts, buf)
	case probe.TCPHTTPResponse:
		return p.emitHTTPResponse(key, ts, buf)
	case probe.TCPSSH:
		return p.emitSSHBanner(key, ts, buf)
	case probe.TCPSSHKex:
		return p.emitSSHKex(key, ts, buf)
	default:
		return p.emitUnknownTCP(key, ts, hdr, buf)
	}
}

// emitUnknownTCP is the TCP analog of emitUnknownUDP: on the first
// data-bearing segment of a flow whose message type matched none of the
// known probes, optionally report the raw bytes as hex. Grounded on
// pkt_proc.cc's tcp_data_write_json, tcp_msg_type_unknown case: gated on
// output_tcp_initial_data and tcp_flow_table.is_first_data_packet, and
// skipped when the payload still looks like a TLS record fragment still
// being reassembled (the original's tls_record::is_valid(pkt) guard),
// rather than double-reporting an in-progress TLS handshake as unknown.
func (p *Processor) emitUnknownTCP(key flowkey.Key, ts int64, hdr tcp.Header, buf []byte) []byte {
	if !p.cfg.OutputTCPInitialData {
		return nil
	}
	if !p.tcpTable.IsFirstDataPacket(key, ts, hdr.Seq) {
		return nil
	}
	if tls.IsValid(buf) {
		return nil
	}
	r := newRecord(key, ts)
	r.metaFn = func(o *datum.Obj) {
		o.KeyBytesHex("tcp_initial_data", buf)
	}
	return p.render(r)
}

func (p *Processor) emitTLSClientHello(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("tls") {
		return nil
	}
	d := datum.New(buf)
	rec, _, ok := tls.ParseRecord(&d)
	if !ok {
		return nil
	}
	hd := datum.New(rec.Fragment)
	hs, _, ok := tls.ParseHandshake(&hd)
	if !ok || hs.Type != tls.HandshakeClientHello {
		return nil
	}
	ch, ok := tls.ParseClientHello(hs.Body)
	if !ok {
		return nil
	}

	fp := ch.Fingerprint()
	r := newRecord(key, ts)
	r.fps["tls"] = fp
	r.serverName = ch.ServerName
	if p.cfg.MetadataOutput {
		r.metaFn = func(o *datum.Obj) {
			tlsObj := o.Object("tls")
			if ch.ServerName != "" {
				tlsObj.KeyString("server_name", ch.ServerName)
			}
			tlsObj.Close()
		}
	}
	if p.cfg.DoAnalysis && p.db != nil {
		res := p.db.Analyze(fp, ch.ServerName, key.DstIPString(), key.DstPort)
		r.analysis = &res
	}
	return p.render(r)
}

func (p *Processor) emitTLSServer(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("tls_server") {
		return nil
	}
	d := datum.New(buf)
	rec, _, ok := tls.ParseRecord(&d)
	if !ok {
		return nil
	}
	hd := datum.New(rec.Fragment)
	hs, _, ok := tls.ParseHandshake(&hd)
	if !ok {
		return nil
	}

	r := newRecord(key, ts)
	var certs [][]byte
	switch hs.Type {
	case tls.HandshakeServerHello:
		sh, ok := tls.ParseServerHello(hs.Body)
		if !ok {
			return nil
		}
		r.fps["tls_server"] = sh.Fingerprint()
	case tls.HandshakeCertificate:
		cm, ok := tls.ParseCertificateMessage(hs.Body, false)
		if !ok {
			return nil
		}
		certs = cm.Certificates
	default:
		return nil
	}

	if p.cfg.CertsJSONOutput && len(certs) > 0 {
		r.metaFn = func(o *datum.Obj) {
			tlsObj := o.Object("tls")
			arr := tlsObj.Array("server_certs")
			for _, der := range certs {
				if cert, ok := tls.ParseCertificate(der); ok {
					co := arr.Object()
					co.KeyString("subject", cert.Subject)
					co.KeyString("issuer", cert.Issuer)
					co.KeyString("not_before", cert.NotBefore)
					co.KeyString("not_after", cert.NotAfter)
					co.Close()
				}
			}
			arr.Close()
			tlsObj.Close()
		}
	}
	if len(r.fps) == 0 && r.metaFn == nil {
		return nil
	}
	return p.render(r)
}

func (p *Processor) emitHTTPRequest(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("http") {
		return nil
	}
	req, ok := http.ParseRequest(buf)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["http"] = req.Fingerprint()
	r.metaFn = func(o *datum.Obj) {
		ho := o.Object("http")
		ho.KeyString("method", req.Method)
		ho.KeyString("uri", req.URI)
		ho.KeyBool("complete", req.Complete)
		ho.Close()
	}
	return p.render(r)
}

func (p *Processor) emitHTTPResponse(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("http_server") {
		return nil
	}
	resp, ok := http.ParseResponse(buf)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["http_server"] = resp.Fingerprint()
	r.metaFn = func(o *datum.Obj) {
		ho := o.Object("http")
		ho.KeyInt("status_code", int64(resp.StatusCode))
		ho.KeyBool("complete", resp.Complete)
		ho.Close()
	}
	return p.render(r)
}

func (p *Processor) emitSSHBanner(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("ssh") {
		return nil
	}
	banner, ok := ssh.ParseBanner(buf)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["ssh"] = banner.Fingerprint()
	return p.render(r)
}

func (p *Processor) emitSSHKex(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("ssh_kex") {
		return nil
	}
	d := datum.New(buf)
	ki, _, ok := ssh.ParsePacket(&d)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["ssh_kex"] = ki.Fingerprint()
	return p.render(r)
}

func (p *Processor) processUDP(ts int64, key flowkey.Key, payload []byte) []byte {
	hdr, ok := udp.Parse(payload)
	if !ok {
		return nil
	}
	key.SrcPort, key.DstPort = hdr.SrcPort, hdr.DstPort

	switch probe.ProbeUDP(hdr.Payload, hdr) {
	case probe.UDPQUIC:
		return p.emitQUIC(key, ts, hdr.Payload)
	case probe.UDPDNS:
		return p.emitDNS(key, ts, hdr.Payload)
	case probe.UDPDHCP:
		return p.emitDHCP(key, ts, hdr.Payload)
	case probe.UDPDTLSClientHello:
		return p.emitDTLSClientHello(key, ts, hdr.Payload)
	case probe.UDPDTLSServerHello, probe.UDPDTLSCertificate:
		return p.emitDTLSServer(key, ts, hdr.Payload)
	case probe.UDPWireGuard:
		return p.emitWireGuard(key, ts, hdr.Payload)
	case probe.UDPVXLAN:
		return p.emitVXLAN(key, ts)
	default:
		return p.emitUnknownUDP(key, ts, hdr.Payload)
	}
}

func (p *Processor) emitQUIC(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("quic") {
		return nil
	}
	ch, ok := quic.DecryptInitialClientHello(buf)
	if !ok {
		return nil
	}
	fp := ch.Fingerprint()
	r := newRecord(key, ts)
	r.fps["quic"] = fp
	r.serverName = ch.ServerName
	if p.cfg.DoAnalysis && p.db != nil {
		res := p.db.Analyze(fp, ch.ServerName, key.DstIPString(), key.DstPort)
		r.analysis = &res
	}
	return p.render(r)
}

func (p *Processor) emitDNS(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("dns") || !p.cfg.DNSJSONOutput {
		return nil
	}
	msg, ok := dns.Parse(buf)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.metaFn = func(o *datum.Obj) {
		dnsObj := o.Object("dns")
		arr := dnsObj.Array("questions")
		for _, q := range msg.Questions {
			qo := arr.Object()
			qo.KeyString("name", q.Name)
			qo.Close()
		}
		arr.Close()
		dnsObj.Close()
	}
	return p.render(r)
}

func (p *Processor) emitDHCP(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("dhcp") {
		return nil
	}
	msg, ok := dhcp.Parse(buf)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["dhcp"] = msg.Fingerprint()
	return p.render(r)
}

func (p *Processor) emitDTLSClientHello(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("dtls") {
		return nil
	}
	d := datum.New(buf)
	rec, ok := dtls.ParseRecord(&d)
	if !ok {
		return nil
	}
	hd := datum.New(rec.Fragment)
	hs, ok := dtls.ParseHandshake(&hd)
	if !ok || !hs.IsSingleFragment {
		return nil
	}
	ch, ok := dtls.ParseClientHello(hs.Body)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["dtls"] = ch.Fingerprint()
	return p.render(r)
}

func (p *Processor) emitDTLSServer(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("dtls") {
		return nil
	}
	d := datum.New(buf)
	rec, ok := dtls.ParseRecord(&d)
	if !ok {
		return nil
	}
	hd := datum.New(rec.Fragment)
	hs, ok := dtls.ParseHandshake(&hd)
	if !ok || !hs.IsSingleFragment {
		return nil
	}
	r := newRecord(key, ts)
	switch hs.Type {
	case tls.HandshakeServerHello:
		sh, ok := dtls.ParseServerHello(hs.Body)
		if !ok {
			return nil
		}
		r.fps["dtls"] = sh.Fingerprint()
	case tls.HandshakeCertificate:
		if !p.cfg.CertsJSONOutput {
			return nil
		}
		if _, ok := tls.ParseCertificateMessage(hs.Body, false); !ok {
			return nil
		}
	default:
		return nil
	}
	return p.render(r)
}

func (p *Processor) emitWireGuard(key flowkey.Key, ts int64, buf []byte) []byte {
	if !p.filter.Enabled("wireguard") {
		return nil
	}
	hi, ok := wireguard.Parse(buf)
	if !ok {
		return nil
	}
	r := newRecord(key, ts)
	r.fps["wireguard"] = hi.Fingerprint()
	return p.render(r)
}

func (p *Processor) emitVXLAN(key flowkey.Key, ts int64) []byte {
	if !p.ipTable.FlowIsNew(key, ts) {
		return nil
	}
	r := newRecord(key, ts)
	r.metaFn = func(o *datum.Obj) {
		o.KeyString("udp", "vxlan")
	}
	return p.render(r)
}

func (p *Processor) emitUnknownUDP(key flowkey.Key, ts int64, payload []byte) []byte {
	if !p.cfg.OutputUDPInitialData || !p.ipTable.FlowIsNew(key, ts) {
		return nil
	}
	r := newRecord(key, ts)
	r.metaFn = func(o *datum.Obj) {
		o.KeyBytesHex("udp_initial_data", payload)
	}
	return p.render(r)
}

func newRecord(key flowkey.Key, ts int64) *record {
	return &record{key: key, ts: ts, fps: make(map[string]string)}
}

// render serialises r into one newline-terminated JSON line, or nil if
// the buffer overflowed (spec section 4.8 step 5, "if the buffer
// overflowed, nothing is emitted").
func (p *Processor) render(r *record) []byte {
	if len(r.fps) == 0 && r.metaFn == nil {
		return nil
	}
	buf := make([]byte, 0, 2048)
	jb := datum.NewJSONBuffer(buf[:cap(buf)])
	o := datum.NewObject(jb)

	fpObj := o.Object("fingerprints")
	for name, fp := range r.fps {
		fpObj.KeyString(name, fp)
	}
	fpObj.Close()

	if r.metaFn != nil {
		r.metaFn(o)
	}

	if r.analysis != nil {
		p.writeAnalysis(o, r.analysis)
	}

	o.KeyString("src_ip", r.key.SrcIPString())
	o.KeyString("dst_ip", r.key.DstIPString())
	o.KeyUint("protocol", uint64(r.key.Protocol))
	o.KeyUint("src_port", uint64(r.key.SrcPort))
	o.KeyUint("dst_port", uint64(r.key.DstPort))
	o.KeyString("event_start", eventStart(r.ts))
	o.Close()

	if jb.Truncated() {
		return nil
	}
	out := make([]byte, 0, jb.Len()+1)
	out = append(out, jb.Bytes()...)
	out = append(out, '\n')
	return out
}

func (p *Processor) writeAnalysis(o *datum.Obj, res *classifier.Result) {
	ao := o.Object("analysis")
	ao.KeyString("status", res.Status.String())
	if res.Status == classifier.StatusLabeled {
		ao.KeyString("process", res.Process)
		ao.KeyFloat("score", res.Probability)
		if res.IsMalwareDB {
			ao.KeyBool("malware", res.Malware)
			ao.KeyFloat("malware_score", res.MalwareProbability)
		}
		if len(res.OSInfo) > 0 {
			arr := ao.Array("os_info")
			for _, e := range res.OSInfo {
				eo := arr.Object()
				eo.KeyString("os", e.OS)
				eo.KeyUint("count", e.Count)
				eo.Close()
			}
			arr.Close()
		}
	}
	ao.Close()
}

// eventStart renders ts (nanoseconds since epoch) as "seconds.microseconds",
// matching spec section 6's event_start format.
func eventStart(ts int64) string {
	sec := ts / 1e9
	usec := (ts % 1e9) / 1000
	return fmt.Sprintf("%d.%06d", sec, usec)
}
