package device

import (
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/aryan-thawkar/minipr2/internal/errors"
)

// USB-serial bridges commonly found on Arduino-compatible sensor boards.
var (
	boardProductHints = []string{"ch340", "arduino", "usb serial"}
	boardVendorIDs    = []string{"1a86", "2341", "2a03"}
)

// PortLister returns the serial ports present on the host.
type PortLister func() ([]*enumerator.PortDetails, error)

// DiscoverPort returns configured when it is set. Otherwise it scans the
// host for a likely sensor board and falls back to the first port listed.
func DiscoverPort(configured string) (string, error) {
	return discover(configured, enumerator.GetDetailedPortsList)
}

func discover(configured string, list PortLister) (string, error) {
	if configured != "" {
		return configured, nil
	}

	ports, err := list()
	if err != nil {
		return "", errors.ErrConnection.WithCause(err)
	}
	if len(ports) == 0 {
		return "", errors.ErrConnection.WithDetails("no serial ports found")
	}
	return pickPort(ports), nil
}

func pickPort(ports []*enumerator.PortDetails) string {
	for _, p := range ports {
		if looksLikeBoard(p) {
			return p.Name
		}
	}
	return ports[0].Name
}

func looksLikeBoard(p *enumerator.PortDetails) bool {
	product := strings.ToLower(p.Product)
	for _, hint := range boardProductHints {
		if strings.Contains(product, hint) {
			return true
		}
	}
	if !p.IsUSB {
		return false
	}
	vid := strings.ToLower(p.VID)
	for _, v := range boardVendorIDs {
		if vid == v {
			return true
		}
	}
	return false
}

// ListPorts returns every serial port the host reports.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.ErrConnection.WithCause(err)
	}
	return ports, nil
}
