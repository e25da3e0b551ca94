// Package config loads proxy chain files.
//
// A chain file is YAML:
//
//	dial_timeout: 10s
//	negotiation_timeout: 5s
//	idle_timeout: 4m
//	proxies:
//	  - url: socks5://bastion.example:1080
//	  - url: socks4a://10.0.0.2
//	    user: alice
//	  - url: socks5://10.1.0.3:1080
//	    user: bob
//	    password: hunter2
//
// Hops are listed in the order the connection passes through them.
package config
