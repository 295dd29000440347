package cyclone

import (
	"fmt"
	"net"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/Leaumonte/CycloneTCP/config"
	"github.com/Leaumonte/CycloneTCP/descring"
	"github.com/Leaumonte/CycloneTCP/macfilter"
	"github.com/Leaumonte/CycloneTCP/mdio"
	"github.com/Leaumonte/CycloneTCP/util"
)

// Settings is everything the engine needs to know about the target MAC
// that is not hidden behind the [Adapter]: ring geometry, the receive
// frame model, and how the silicon derives its hash filter.
type Settings struct {
	TxCount      int
	TxBufferSize int
	RxCount      int
	RxBufferSize int

	FrameMode    descring.FrameMode
	MaxFrameSize int

	Station    net.HardwareAddr
	FilterOpts macfilter.Options
}

// NewSettings builds [Settings] from config, with defaults sized like a
// small embedded MAC: a handful of frame-sized transmit buffers and a
// larger ring of receive buffers.
func NewSettings(c *config.C) (Settings, error) {
	s := Settings{
		TxCount:      c.GetInt("ring.tx_count", 8),
		TxBufferSize: c.GetInt("ring.tx_buffer_size", 1536),
		RxCount:      c.GetInt("ring.rx_count", 16),
		RxBufferSize: c.GetInt("ring.rx_buffer_size", 1536),
		MaxFrameSize: c.GetInt("ring.max_frame_size", descring.DefaultMaxFrameSize),
		FilterOpts: macfilter.Options{
			ExactSlots: c.GetInt("filter.exact_slots", macfilter.DefaultExactSlots),
		},
	}

	switch mode := c.GetString("ring.rx_mode", "single"); mode {
	case "single":
		s.FrameMode = descring.FrameModeSingle
	case "scatter":
		s.FrameMode = descring.FrameModeScatter
	default:
		return s, fmt.Errorf("ring.rx_mode not understood: %s", mode)
	}

	switch hash := c.GetString("filter.hash", "crc32"); hash {
	case "crc32":
		s.FilterOpts.Strategy = macfilter.HashCRC32
	case "xor":
		s.FilterOpts.Strategy = macfilter.HashXOR
	default:
		return s, fmt.Errorf("filter.hash not understood: %s", hash)
	}

	mac, err := net.ParseMAC(c.GetString("mac", "02:00:00:00:00:01"))
	if err != nil {
		return s, fmt.Errorf("mac is not a valid hardware address: %w", err)
	}
	s.Station = mac

	return s, nil
}

// NewNIC builds the driver instance: both rings with their backing
// buffers, the transmit and receive paths over them, and the management
// bus. recv receives every complete inbound frame; the slice is only valid
// during the call.
//
// The rings are allocated once here and only ever reinitialized in place
// afterwards.
func NewNIC(l *logrus.Logger, s Settings, adapter Adapter, phy PHY, recv func([]byte)) (*NIC, error) {
	if adapter == nil {
		return nil, util.NewContextualError("No peripheral adapter provided", nil, nil)
	}

	txRing, err := descring.New(s.TxCount, s.TxBufferSize, descring.DirTransmit)
	if err != nil {
		return nil, util.NewContextualError("Failed to allocate the transmit ring", nil, err)
	}
	rxRing, err := descring.New(s.RxCount, s.RxBufferSize, descring.DirReceive)
	if err != nil {
		return nil, util.NewContextualError("Failed to allocate the receive ring", nil, err)
	}

	n := &NIC{
		l:          l,
		adapter:    adapter,
		phy:        phy,
		bus:        mdio.New(adapter.MDIO()),
		txRing:     txRing,
		rxRing:     rxRing,
		station:    s.Station,
		filterOpts: s.FilterOpts,
		event:      make(chan struct{}, 1),
		txReady:    make(chan struct{}, 1),
		busErrors:  metrics.GetOrRegisterCounter("nic.bus_errors", nil),
	}

	n.tx = descring.NewTx(txRing, adapter.KickTransmit, n.signalTxReady)
	n.rx = descring.NewRx(rxRing, s.FrameMode, s.MaxFrameSize, adapter.KickReceive, recv)

	return n, nil
}

// Init brings the interface up: PHY first, then the station filter, the
// descriptor rings, and finally the transmit/receive circuits. It ends by
// raising the ready signal so the upper layer starts handing us frames.
//
// Init is also the recovery path: it may be called again after a fatal
// error with the peripheral disabled, and resets everything in place.
func (n *NIC) Init() error {
	if n.phy == nil {
		return ErrNoPhyAttached
	}

	n.l.WithField("txSlots", n.txRing.Capacity()).
		WithField("rxSlots", n.rxRing.Capacity()).
		Info("Initializing MAC driver")

	n.adapter.Disable()

	if err := n.phy.Init(); err != nil {
		return util.NewContextualError("PHY initialization failed", nil, err)
	}

	// Station address plus an empty hash table until the stack registers
	// filter entries.
	n.adapter.ApplyFilter(macfilter.Build(n.station, nil, n.filterOpts))

	n.txRing.Init()
	n.rxRing.Init()
	n.adapter.AttachRings(n.txRing, n.rxRing)
	n.adapter.ParkUnusedQueues()

	n.adapter.Enable()
	n.EnableInterrupts()

	// Accept any packets from the upper layer.
	n.signalTxReady()
	return nil
}
