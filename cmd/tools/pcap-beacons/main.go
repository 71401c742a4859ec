//go:build pcap
// +build pcap

// Command pcap-beacons locates sync beacons inside a packet capture and
// correlates them with the experiment's event log. This is the analysis
// step the beacons exist for: it recovers exact replay boundaries in
// capture time.
//
// Usage:
//
//	pcap-beacons -pcap exp1.pcap [-port 55555] [-events timestamps.csv]
//
// Requires the 'pcap' build tag (and libpcap).
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/replay.bench/internal/beacon"
	"github.com/banshee-data/replay.bench/internal/eventlog"
	"github.com/banshee-data/replay.bench/internal/fsutil"
)

// capturedBeacon is one beacon as seen by the capture process.
type capturedBeacon struct {
	Time time.Time
	Msg  beacon.Message
}

func main() {
	pcapFile := flag.String("pcap", "", "Capture file to scan (required)")
	port := flag.Int("port", 55555, "UDP port the beacons were sent to")
	eventsCSV := flag.String("events", "", "Event log CSV to correlate against (optional)")
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("-pcap is required")
	}

	beacons, err := scanBeacons(*pcapFile, *port)
	if err != nil {
		log.Fatalf("failed to scan capture: %v", err)
	}

	fmt.Println("capture_time,phase,replay_id")
	for _, b := range beacons {
		fmt.Printf("%s,%s,%s\n", b.Time.Format(time.RFC3339Nano), b.Msg.Phase, b.Msg.ReplayID)
	}
	log.Printf("found %d beacons in %s", len(beacons), *pcapFile)

	if *eventsCSV != "" {
		if err := correlate(beacons, *eventsCSV); err != nil {
			log.Fatalf("failed to correlate: %v", err)
		}
	}
}

// scanBeacons reads the capture and returns every sync-beacon datagram on
// the given port, in capture order.
func scanBeacons(pcapFile string, port int) ([]capturedBeacon, error) {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return nil, fmt.Errorf("failed to set BPF filter %q: %w", filterStr, err)
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())

	var beacons []capturedBeacon
	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}

		payload := udp.Payload
		if !beacon.IsBeacon(payload) {
			continue
		}
		msg, err := beacon.ParsePayload(string(payload))
		if err != nil {
			log.Printf("skipping malformed beacon at %v: %v", packet.Metadata().Timestamp, err)
			continue
		}

		beacons = append(beacons, capturedBeacon{
			Time: packet.Metadata().Timestamp,
			Msg:  msg,
		})
	}
	return beacons, nil
}

// correlate pairs replay_start/replay_end beacons with the event log's
// flag-edge events in order and reports the capture-vs-logger clock
// offset per pair. A stable offset means the two clocks can be aligned
// with a single shift; drift shows up as a trend.
func correlate(beacons []capturedBeacon, eventsCSV string) error {
	events, err := eventlog.ReadCSV(fsutil.OSFileSystem{}, eventsCSV)
	if err != nil {
		return err
	}

	edgeEvents := map[string]string{
		beacon.PhaseReplayStart: "replay_flag_appeared",
		beacon.PhaseReplayEnd:   "replay_flag_cleared",
	}

	// Consume log events in order, one per matching beacon.
	next := 0
	matched := 0
	var minOff, maxOff, sumOff time.Duration

	fmt.Println("\nphase,replay_id,capture_time,logger_wall,offset")
	for _, b := range beacons {
		wantEvent, ok := edgeEvents[b.Msg.Phase]
		if !ok {
			continue
		}
		for next < len(events) && (events[next].Name != wantEvent || events[next].ReplayID != b.Msg.ReplayID) {
			next++
		}
		if next >= len(events) {
			log.Printf("no %s event for %s beacon (replay %s)", wantEvent, b.Msg.Phase, b.Msg.ReplayID)
			continue
		}

		wall := time.Unix(0, events[next].WallNS)
		offset := b.Time.Sub(wall)
		fmt.Printf("%s,%s,%s,%s,%v\n",
			b.Msg.Phase, b.Msg.ReplayID,
			b.Time.Format(time.RFC3339Nano), wall.Format(time.RFC3339Nano), offset)

		if matched == 0 || offset < minOff {
			minOff = offset
		}
		if matched == 0 || offset > maxOff {
			maxOff = offset
		}
		sumOff += offset
		matched++
		next++
	}

	if matched == 0 {
		log.Printf("no beacon/event pairs matched")
		return nil
	}
	log.Printf("matched %d pairs: offset min=%v max=%v mean=%v spread=%v",
		matched, minOff, maxOff, sumOff/time.Duration(matched), maxOff-minOff)
	return nil
}
