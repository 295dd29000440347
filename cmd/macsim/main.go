package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	cyclone "github.com/Leaumonte/CycloneTCP"
	"github.com/Leaumonte/CycloneTCP/config"
	"github.com/Leaumonte/CycloneTCP/descring"
	"github.com/Leaumonte/CycloneTCP/hwsim"
	"github.com/Leaumonte/CycloneTCP/util"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	err := c.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	mac := hwsim.NewMAC(l, hwsim.MACConfig{
		Scatter:  c.GetString("ring.rx_mode", "single") == "scatter",
		Loopback: c.GetBool("sim.loopback", true),
	})
	phy := &hwsim.PHY{}

	var received atomic.Int64
	recv := func(frame []byte) {
		received.Add(1)
		pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
		if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
			l.WithField("src", eth.SrcMAC).WithField("dst", eth.DstMAC).
				WithField("len", len(frame)).Debug("Received a frame")
		}
	}

	n, err := cyclone.Main(c, *configTest, Build, l, mac, phy, recv)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		os.Exit(1)
	}

	if *configTest {
		os.Exit(0)
	}

	// Everything below feeds the simulated wire; with loopback on, each
	// transmitted frame comes back through the receive path.
	mac.SetInterruptHandler(n.Interrupt)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c.CatchHUP(ctx)
	go n.Run(ctx)

	station, _ := net.ParseMAC(c.GetString("mac", "02:00:00:00:00:01"))
	interval := c.GetDuration("sim.send_interval", time.Second)
	sent := 0

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	phyTicker := time.NewTicker(time.Second)
	defer phyTicker.Stop()

	l.WithField("build", Build).Info("Simulator running, ^C to exit")

	for {
		select {
		case <-ctx.Done():
			l.WithField("sent", sent).WithField("received", received.Load()).
				Info("Simulator stopped")
			os.Exit(0)
		case <-phyTicker.C:
			n.Tick()
		case <-ticker.C:
			frame, err := buildFrame(station, sent)
			if err != nil {
				l.WithError(err).Error("Failed to build a frame")
				continue
			}

			select {
			case <-n.TxReady():
			case <-time.After(interval):
				l.Warn("Transmitter never became ready")
				continue
			}

			err = n.SendFrame(frame)
			if errors.Is(err, descring.ErrBusy) {
				l.Debug("Ring full, retrying next tick")
				continue
			}
			if err != nil {
				l.WithError(err).Error("Failed to send a frame")
				continue
			}
			sent++
		}
	}
}

// buildFrame serializes a small broadcast Ethernet frame with a counter in
// the payload.
func buildFrame(src net.HardwareAddr, seq int) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   src,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{10, 0, 0, byte(seq%250 + 2)},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	err := gopacket.SerializeLayers(buf, opts, eth, arp)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
