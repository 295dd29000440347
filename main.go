package cyclone

import (
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/Leaumonte/CycloneTCP/config"
	"github.com/Leaumonte/CycloneTCP/util"
)

// Main wires a driver instance together from config: logging, settings,
// the rings and paths, and the stats sink. The adapter and phy are the
// caller's hooks to the actual peripheral; recv is handed every complete
// inbound frame.
//
// The returned NIC is initialized but idle. Call Run to start servicing
// events.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, adapter Adapter, phy PHY, recv func([]byte)) (*NIC, error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	settings, err := NewSettings(c)
	if err != nil {
		return nil, util.NewContextualError("Failed to load ring settings from config", nil, err)
	}

	n, err := NewNIC(l, settings, adapter, phy, recv)
	if err != nil {
		// The errors coming out of NewNIC are already nicely formatted
		return nil, err
	}

	err = startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.NewContextualError("Failed to start stats emission", nil, err)
	}

	if configTest {
		return n, nil
	}

	err = n.Init()
	if err != nil {
		return nil, util.NewContextualError("Failed to initialize the interface", nil, err)
	}

	return n, nil
}
