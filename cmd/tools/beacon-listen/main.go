// Command beacon-listen receives sync beacons on the correlation host.
// Each beacon is printed with local monotonic and wall timestamps so the
// receiver side can be lined up against the experiment's event log, plus
// per-second rate statistics for eyeballing beacon loss.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/replay.bench/internal/beacon"
)

func main() {
	listen := flag.String("listen", ":55555", "UDP listen address")
	flag.Parse()

	addr, err := net.ResolveUDPAddr("udp", *listen)
	if err != nil {
		log.Fatal(err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	fmt.Printf("beacon listener started on %s\n", *listen)

	origin := time.Now()
	var beaconCount int64
	var otherCount int64

	// Statistics goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			beacons := atomic.SwapInt64(&beaconCount, 0)
			others := atomic.SwapInt64(&otherCount, 0)
			if beacons > 0 || others > 0 {
				fmt.Printf("Received: %d beacons/sec, %d other datagrams/sec\n", beacons, others)
			}
		}
	}()

	// Main receive loop
	buffer := make([]byte, 65536)
	for {
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			log.Printf("Read error: %v", err)
			continue
		}

		payload := buffer[:n]
		if !beacon.IsBeacon(payload) {
			atomic.AddInt64(&otherCount, 1)
			continue
		}

		msg, err := beacon.ParsePayload(string(payload))
		if err != nil {
			log.Printf("Malformed beacon from %s: %v", from, err)
			continue
		}

		atomic.AddInt64(&beaconCount, 1)
		now := time.Now()
		fmt.Printf("%d,%d,%s,%s,%s\n",
			now.Sub(origin).Nanoseconds(), now.UnixNano(), msg.Phase, msg.ReplayID, from)
	}
}
