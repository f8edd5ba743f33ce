// Package config loads orchestrator settings and the inventory.
//
// # Settings
//
// Settings come from orchestra.yaml (or the file given with --config), with
// defaults for every key and ORCHESTRA_ environment overrides:
//
//	ORCHESTRA_ENGINE_WORKERS=8
//	ORCHESTRA_ENGINE_DISABLE_EXECUTION=true
//	ORCHESTRA_DOMAINS_ZONE_PATH=/var/lib/bind/{name}.db
//
// # Inventory
//
// The inventory declares servers, routes and the hosting models:
//
//	servers:
//	  - name: ns1
//	    address: 10.0.0.1
//	  - name: web1
//	    address: localhost
//	routes:
//	  - backend: dns-master
//	    host: ns1
//	  - backend: apache2
//	    host: web1
//	    match: "account == 'acme'"
//	domains:
//	  - name: example.com
//	    records:
//	      - {type: A, value: 10.0.0.10}
//	websites:
//	  - name: shop
//	    account: acme
//	    protocol: https-only
//	    domains: [example.com, www.example.com]
//
// It is validated against the #Inventory CUE schema, then against the struct
// validation tags and cross references. A route without match takes the
// default match of its backend.
//
// Watcher reloads the inventory on change so that a running orchestrator can
// turn edits into model changes.
package config
