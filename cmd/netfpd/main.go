/*************************************************************************
 * Copyright 2018 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command netfpd reads packets from a pcap file or a live interface,
// fingerprints their first-flight handshakes, optionally classifies them
// against a resource archive, and either prints the resulting JSON
// records to stdout or ships them to a Gravwell ingester, grounded on
// ingesters/pcapFileIngester/main.go's capture-then-ingest shape.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/gopacket"
	pcap "github.com/google/gopacket/pcapgo"

	"github.com/gravwell/netfpd/archive"
	"github.com/gravwell/netfpd/asn"
	"github.com/gravwell/netfpd/classifier"
	"github.com/gravwell/netfpd/config"
	"github.com/gravwell/netfpd/ingest"
	"github.com/gravwell/netfpd/ingest/entry"
	"github.com/gravwell/netfpd/internal/gwlog"
	"github.com/gravwell/netfpd/internal/utils"
	"github.com/gravwell/netfpd/internal/version"
	"github.com/gravwell/netfpd/processor"
)

var (
	pcapFile    = flag.String("pcap-file", "", "path to a pcap/pcapng file; mutually exclusive with -iface")
	iface       = flag.String("iface", "", "live capture interface; mutually exclusive with -pcap-file")
	resources   = flag.String("resources", "", "path to the classifier resource archive")
	encKeyHex   = flag.String("enc-key", "", "hex-encoded archive decryption key, if the resource archive is encrypted")
	keyTypeFlag = flag.String("key-type", "none", "archive key type: none, aes128, or aes256")
	filterCfg   = flag.String("filter", "", "comma separated protocol filter, e.g. tls,http,dns (empty enables all)")
	doAnalysis  = flag.Bool("analyze", false, "classify fingerprints against the resource archive")
	metadata    = flag.Bool("metadata", true, "include protocol metadata fields in emitted records")
	enableGRE   = flag.Bool("gre", false, "peel one layer of GRE encapsulation")
	stdout      = flag.Bool("stdout", false, "print JSON records to stdout instead of ingesting them")
	dests       = flag.String("destinations", "", "comma separated ingester destinations")
	tagName     = flag.String("tag", "netfpd", "ingest tag for emitted records")
	secret      = flag.String("secret", "", "ingest authentication secret")
	snapshot    = flag.String("snapshot", "", "path to a bolt db persisting the adaptive prevalence set across restarts")
	ver         = flag.Bool("version", false, "print the version information and exit")

	recCount uint64
	byteSize uint64
)

func main() {
	debug.SetTraceback("all")
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		ingest.PrintVersion(os.Stdout)
		os.Exit(0)
	}
	if (*pcapFile == "") == (*iface == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -pcap-file or -iface is required")
		os.Exit(1)
	}

	lg, err := gwlog.NewStderr("", "INFO")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := buildConfig()
	if err != nil {
		lg.Errorf("failed to build configuration: %v", err)
		os.Exit(1)
	}

	var db *classifier.DB
	if cfg.DoAnalysis {
		if db, err = loadClassifierDB(cfg); err != nil {
			lg.Errorf("failed to load classifier resources: %v", err)
			os.Exit(1)
		}
		if *snapshot != "" {
			if err := db.LoadSnapshot(*snapshot); err != nil {
				lg.Errorf("failed to load prevalence snapshot: %v", err)
				os.Exit(1)
			}
			defer func() {
				if err := db.SaveSnapshot(*snapshot); err != nil {
					lg.Errorf("failed to save prevalence snapshot: %v", err)
				}
			}()
		}
	}

	proc, err := processor.New(cfg, lg, db)
	if err != nil {
		lg.Errorf("failed to build processor: %v", err)
		os.Exit(1)
	}

	ph, err := newPacketSource()
	if err != nil {
		lg.Errorf("failed to open packet source: %v", err)
		os.Exit(1)
	}
	defer ph.Close()

	if *stdout {
		runStdout(proc, ph)
		return
	}
	runIngest(proc, ph, lg)
}

func buildConfig() (config.Config, error) {
	cfg := config.Default()
	cfg.PacketFilterCfg = *filterCfg
	cfg.DoAnalysis = *doAnalysis
	cfg.MetadataOutput = *metadata
	cfg.EnableGRE = *enableGRE
	cfg.Resources = *resources

	switch strings.ToLower(*keyTypeFlag) {
	case "aes128":
		cfg.KeyType = config.KeyAES128
	case "aes256":
		cfg.KeyType = config.KeyAES256
	case "", "none":
		cfg.KeyType = config.KeyNone
	default:
		return config.Config{}, fmt.Errorf("unknown key type %q", *keyTypeFlag)
	}
	if *encKeyHex != "" {
		key, err := decodeHexKey(*encKeyHex)
		if err != nil {
			return config.Config{}, err
		}
		cfg.EncKey = key
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func decodeHexKey(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("enc-key: odd length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("enc-key: invalid hex digit %q", c)
	}
}

// loadClassifierDB opens the resource archive and wires its logical
// entries (fingerprint db, subnet table, prevalence set, version string)
// into a classifier.DB, grounded on spec section 6's named archive
// members.
func loadClassifierDB(cfg config.Config) (*classifier.DB, error) {
	f, err := os.Open(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("open resources: %w", err)
	}
	defer f.Close()

	entries, err := archive.Open(f, cfg.EncKey)
	if err != nil {
		return nil, fmt.Errorf("read resources: %w", err)
	}

	subnets := asn.NewTable()
	if e, ok := archive.Find(entries, "pyasn.db"); ok {
		if err := subnets.Load(bytesReader(e.Data)); err != nil {
			return nil, fmt.Errorf("load asn table: %w", err)
		}
	}
	subnets.Finalize()

	db := classifier.NewDB(subnets, int(cfg.MaxStatsEntries))
	if e, ok := archive.Find(entries, "fp_prevalence_tls.txt"); ok {
		if err := db.LoadPrevalence(bytesReader(e.Data)); err != nil {
			return nil, fmt.Errorf("load prevalence: %w", err)
		}
	}
	if e, ok := archive.Find(entries, "VERSION"); ok {
		if err := db.LoadVersion(bytesReader(e.Data)); err != nil {
			return nil, fmt.Errorf("load version: %w", err)
		}
	}
	fpOpts := classifier.LoadOptions{
		FPProcThreshold:  cfg.FPProcThreshold,
		ProcDstThreshold: cfg.ProcDstThreshold,
		ReportOS:         cfg.ReportOS,
	}
	if e, ok := archive.Find(entries, "fingerprint_db.json"); ok {
		if err := db.LoadFingerprintDB(bytesReader(e.Data), fpOpts); err != nil {
			return nil, fmt.Errorf("load fingerprint db: %w", err)
		}
	}
	return db, nil
}

func bytesReader(b []byte) io.Reader { return strings.NewReader(string(b)) }

// runStdout drives the packet source through proc and writes each
// emitted record straight to stdout, matching the -no-ingest simulate
// path the teacher offers for local inspection.
func runStdout(proc *processor.Processor, ph *packetHandle) {
	w := bufio.NewWriterSize(os.Stdout, 64*1024)
	defer w.Flush()

	start := time.Now()
	for {
		data, ci, err := ph.ReadPacketData()
		if err != nil {
			break
		}
		rec := proc.Process(ci.Timestamp.UnixNano(), data)
		if rec == nil {
			continue
		}
		recCount++
		byteSize += uint64(len(rec))
		w.Write(rec)
	}
	dur := time.Since(start)
	fmt.Fprintf(os.Stderr, "Completed in %v (%s)\n", dur, ingest.HumanSize(byteSize))
	fmt.Fprintf(os.Stderr, "Records: %s\n", ingest.HumanCount(recCount))
}

// runIngest drives the packet source through proc and ships each emitted
// record as an entry to a Gravwell ingester, following
// pcapFileIngester/main.go's muxer-and-tag setup.
func runIngest(proc *processor.Processor, ph *packetHandle, lg *gwlog.Logger) {
	if *dests == "" || *secret == "" {
		lg.Errorf("ingest mode requires -destinations and -secret (or pass -stdout)")
		os.Exit(1)
	}
	igCfg := ingest.UniformMuxerConfig{
		Destinations: strings.Split(*dests, ","),
		Tags:         []string{*tagName},
		Auth:         *secret,
		LogLevel:     "INFO",
	}
	igst, err := ingest.NewUniformMuxer(igCfg)
	if err != nil {
		lg.Errorf("failed to build ingest muxer: %v", err)
		os.Exit(1)
	}
	if err := igst.Start(); err != nil {
		lg.Errorf("failed to start ingest muxer: %v", err)
		os.Exit(1)
	}
	if err := igst.WaitForHot(10 * time.Second); err != nil {
		lg.Errorf("timed out waiting for ingester connections: %v", err)
		os.Exit(1)
	}
	tag, err := igst.GetTag(*tagName)
	if err != nil {
		lg.Errorf("failed to resolve tag %s: %v", *tagName, err)
		os.Exit(1)
	}
	src, err := igst.SourceIP()
	if err != nil {
		lg.Errorf("failed to resolve source IP: %v", err)
		os.Exit(1)
	}

	quit := utils.GetQuitChannel()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	start := time.Now()
loop:
	for {
		select {
		case <-quit:
			break loop
		default:
		}
		data, ci, err := ph.ReadPacketData()
		if err != nil {
			break
		}
		rec := proc.Process(ci.Timestamp.UnixNano(), data)
		if rec == nil {
			continue
		}
		recCount++
		byteSize += uint64(len(rec))
		ent := &entry.Entry{
			TS:   entry.FromStandard(ci.Timestamp),
			SRC:  src,
			Tag:  tag,
			Data: rec,
		}
		if err := igst.WriteEntry(ent); err != nil {
			lg.Errorf("failed to write entry: %v", err)
			break
		}
	}
	if err := igst.Sync(10 * time.Second); err != nil {
		lg.Errorf("failed to sync ingester: %v", err)
	}
	if err := igst.Close(); err != nil {
		lg.Errorf("failed to close ingester: %v", err)
	}
	dur := time.Since(start)
	fmt.Fprintf(os.Stderr, "Completed in %v (%s)\n", dur, ingest.HumanSize(byteSize))
	fmt.Fprintf(os.Stderr, "Records: %s\n", ingest.HumanCount(recCount))
	fmt.Fprintf(os.Stderr, "Record Rate: %s\n", ingest.HumanEntryRate(recCount, dur))
}

// packetHandle abstracts over pcap's classic and next-gen file formats
// plus a live interface capture, matching pcapFileIngester's
// newPacketReader dual-format probe.
type packetHandle struct {
	fi     io.ReadCloser
	live   *pcap.EthernetHandle
	ngMode bool
	hnd    *pcap.Reader
	nghnd  *pcap.NgReader
}

func newPacketSource() (*packetHandle, error) {
	if *iface != "" {
		h, err := pcap.NewEthernetHandle(*iface)
		if err != nil {
			return nil, fmt.Errorf("open interface %s: %w", *iface, err)
		}
		return &packetHandle{live: h}, nil
	}
	return newPacketFileReader(*pcapFile)
}

func newPacketFileReader(pth string) (ph *packetHandle, err error) {
	var fi *os.File
	if fi, err = os.Open(pth); err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(fi, 16*1024*1024)

	if hnd, herr := pcap.NewReader(br); herr == nil {
		return &packetHandle{fi: fi, hnd: hnd}, nil
	}
	if _, err = fi.Seek(0, io.SeekStart); err != nil {
		fi.Close()
		return nil, err
	}
	br = bufio.NewReaderSize(fi, 16*1024*1024)
	nghnd, err := pcap.NewNgReader(br, pcap.NgReaderOptions{})
	if err != nil {
		fi.Close()
		return nil, fmt.Errorf("unrecognized pcap format: %w", err)
	}
	return &packetHandle{fi: fi, nghnd: nghnd, ngMode: true}, nil
}

func (ph *packetHandle) Close() error {
	if ph.live != nil {
		ph.live.Close()
		return nil
	}
	return ph.fi.Close()
}

func (ph *packetHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	switch {
	case ph.live != nil:
		return ph.live.ReadPacketData()
	case ph.ngMode:
		return ph.nghnd.ReadPacketData()
	default:
		return ph.hnd.ReadPacketData()
	}
}
