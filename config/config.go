// Package config defines the fingerprinting engine's configuration
// structure, grounded on mercury_config (mercury.h) and expressed as a
// plain Go struct with validation, the way ingest/config validates a
// gcfg-loaded struct before a muxer is built from it.
package config

import (
	"fmt"
	"strings"
)

// KeyType names the symmetric-cipher family used to decrypt an encrypted
// resource archive, or KeyNone if the archive is plaintext/unencrypted.
type KeyType int

const (
	KeyNone KeyType = iota
	KeyAES128
	KeyAES256
)

func (k KeyType) String() string {
	switch k {
	case KeyAES128:
		return "aes128"
	case KeyAES256:
		return "aes256"
	default:
		return "none"
	}
}

// protocolTokens is the set of names accepted by the packet filter
// configuration string; unknown tokens are a validation error.
var protocolTokens = map[string]bool{
	"tls": true, "tls_server": true, "http": true, "http_server": true,
	"ssh": true, "ssh_kex": true, "dtls": true, "dhcp": true,
	"tcp": true, "udp": true, "quic": true, "dns": true, "wireguard": true,
}

// Filter is a parsed, validated packet filter configuration: the set of
// protocol record types enabled for emission.
type Filter struct {
	enabled map[string]bool
}

// ParseFilter parses a comma-separated selector list (e.g. "tls,http,dns").
// An empty string enables every known protocol, matching mercury's default
// of reporting everything when no filter is configured.
func ParseFilter(s string) (Filter, error) {
	f := Filter{enabled: make(map[string]bool)}
	s = strings.TrimSpace(s)
	if s == "" {
		for tok := range protocolTokens {
			f.enabled[tok] = true
		}
		return f, nil
	}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if !protocolTokens[tok] {
			return Filter{}, fmt.Errorf("config: unknown packet filter token %q", tok)
		}
		f.enabled[tok] = true
	}
	return f, nil
}

// Enabled reports whether records of the given protocol name should be
// emitted.
func (f Filter) Enabled(protocol string) bool {
	return f.enabled[protocol]
}

// Config is the engine's runtime configuration, the Go-native form of
// mercury_config's analysis-relevant fields (capture interface, rotation,
// thread count, etc. are out of scope -- see SPEC_FULL.md's ambient stack
// section for where those live instead, in the ingest library and cmd/netfpd
// flags).
type Config struct {
	// Output shaping.
	DNSJSONOutput        bool
	CertsJSONOutput      bool
	MetadataOutput       bool
	DoAnalysis           bool
	DoStats              bool
	ReportOS             bool
	OutputTCPInitialData bool
	OutputUDPInitialData bool

	// EnableGRE peels one layer of GRE encapsulation between the outer
	// and inner IP headers (spec section 4.8 step 2); off by default,
	// matching mercury's GRE-disabled default.
	EnableGRE bool

	// Resource archive.
	Resources string
	EncKey    []byte
	KeyType   KeyType

	// Classifier thresholds, both in [0,1].
	FPProcThreshold  float64
	ProcDstThreshold float64

	// Prevalence / flow table bookkeeping.
	MaxStatsEntries uint

	// Packet filter selector string, e.g. "tls,http,dns".
	PacketFilterCfg string
}

// Filter parses and returns the configured packet filter selector.
func (c Config) Filter() (Filter, error) {
	return ParseFilter(c.PacketFilterCfg)
}

// Validate checks field-level invariants, matching the teacher's
// fail-fast-at-init convention (ingest/config's Validate methods): archive
// config and thresholds are rejected here, before any collaborator is
// constructed from this Config.
func (c Config) Validate() error {
	if c.DoAnalysis && c.Resources == "" {
		return fmt.Errorf("config: do_analysis requires a resources archive path")
	}
	if c.FPProcThreshold < 0 || c.FPProcThreshold > 1 {
		return fmt.Errorf("config: fp_proc_threshold %v out of range [0,1]", c.FPProcThreshold)
	}
	if c.ProcDstThreshold < 0 || c.ProcDstThreshold > 1 {
		return fmt.Errorf("config: proc_dst_threshold %v out of range [0,1]", c.ProcDstThreshold)
	}
	switch c.KeyType {
	case KeyNone, KeyAES128, KeyAES256:
	default:
		return fmt.Errorf("config: unknown key type %v", c.KeyType)
	}
	if c.KeyType == KeyAES128 && len(c.EncKey) != 16 {
		return fmt.Errorf("config: aes128 requires a 16-byte key, got %d", len(c.EncKey))
	}
	if c.KeyType == KeyAES256 && len(c.EncKey) != 32 {
		return fmt.Errorf("config: aes256 requires a 32-byte key, got %d", len(c.EncKey))
	}
	if _, err := c.Filter(); err != nil {
		return err
	}
	return nil
}

// Default returns the engine's default configuration: reassembly and
// metadata emission on, analysis and stats off (matching mercury's default
// of "parse and fingerprint" without requiring a resource archive).
func Default() Config {
	return Config{
		MetadataOutput:   true,
		FPProcThreshold:  0.01,
		ProcDstThreshold: 0.01,
		MaxStatsEntries:  100_000,
	}
}
