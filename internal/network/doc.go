// Package network brings the node onto the network and finds its broker.
//
// Provisioner waits for the host to hold a usable (non-loopback unicast)
// address before the first connection attempt. Locator browses mDNS for an
// advertised MQTT broker when no broker host is configured.
//
//	prov := network.NewProvisioner(cfg.GetNetworkWaitTimeout(), log)
//	if err := prov.AutoConnect(ctx); err != nil {
//	    return err
//	}
//
//	loc := network.NewLocator(cfg.Network.Discovery, log)
//	ep, err := loc.Locate(ctx)
package network
