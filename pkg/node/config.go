package node

import (
	"fmt"
	"io"
	"net"
	"text/tabwriter"
)

// PortConfig is a snapshot of one port.
type PortConfig struct {
	Addr        uint8
	DefaultAddr uint8
	NetCtl      bool
	Enabled     bool
	Status      uint8
	Merge       MergeMode
	TODSize     int
}

// Config is a snapshot of node state.
type Config struct {
	Style        Style
	Mode         Mode
	IP           net.IP
	Broadcast    net.IP
	ShortName    string
	LongName     string
	Report       string
	Subnet       uint8
	SubnetNetCtl bool
	PortTypes    [MaxPorts]uint8
	Inputs       [MaxPorts]PortConfig
	Outputs      [MaxPorts]PortConfig
}

// Config returns a snapshot of the node configuration.
func (n *Node) Config() Config {
	c := Config{
		Style:        n.style,
		Mode:         n.mode,
		IP:           n.ip,
		Broadcast:    n.bcast,
		ShortName:    n.shortName,
		LongName:     n.longName,
		Report:       n.pollReply().NodeReport,
		Subnet:       n.subnet,
		SubnetNetCtl: n.subnetNetCtl,
		PortTypes:    n.portTypes,
	}
	for i := 0; i < MaxPorts; i++ {
		c.Inputs[i] = portConfig(&n.in[i].port)
		o := &n.out[i]
		c.Outputs[i] = portConfig(&o.port)
		c.Outputs[i].Merge = o.mode
	}
	return c
}

func portConfig(p *port) PortConfig {
	return PortConfig{
		Addr:        p.addr,
		DefaultAddr: p.defaultAddr,
		NetCtl:      p.netCtl,
		Enabled:     p.enabled,
		Status:      p.status,
		TODSize:     p.tod.Len(),
	}
}

// DumpConfig writes a human readable summary of the node to w.
func (n *Node) DumpConfig(w io.Writer) error {
	c := n.Config()
	fmt.Fprintf(w, "#### NODE CONFIG ####\n")
	fmt.Fprintf(w, "Style: %s\nMode: %s\nIP: %v\nBroadcast: %v\n", c.Style, c.Mode, c.IP, c.Broadcast)
	fmt.Fprintf(w, "Short name: %s\nLong name: %s\nReport: %s\n", c.ShortName, c.LongName, c.Report)
	fmt.Fprintf(w, "Subnet: %#02x (network: %v)\n", c.Subnet, c.SubnetNetCtl)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "port\ttype\tin addr\tin status\tout addr\tout status\tmerge")
	for i := 0; i < MaxPorts; i++ {
		in, out := c.Inputs[i], c.Outputs[i]
		fmt.Fprintf(tw, "%d\t%#02x\t%#02x\t%#02x\t%#02x\t%#02x\t%s\n",
			i, c.PortTypes[i], in.Addr, in.Status, out.Addr, out.Status, out.Merge)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "#####################\n")
	return err
}
