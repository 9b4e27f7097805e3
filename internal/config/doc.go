// Package config provides configuration management for devstack.
//
// Configuration is loaded from up to three layers and merged in order, with
// later layers overriding earlier ones:
//
//  1. Built-in defaults
//  2. User configuration (~/.config/devstack/config.yaml)
//  3. Project configuration (./.devstack/config.yaml)
//
// Scalar fields override when set. Web servers and service launch entries
// are merged by name, so a project file can change the nginx port without
// restating the apache entry.
//
// # Configuration Structure
//
//	baseDir: ~/.devstack          # services install below <baseDir>/bin
//	wwwRoot: ~/.devstack/www      # sites live in <wwwRoot>/<site>
//	autoVirtualHosts: true
//	hostsFile: /etc/hosts
//	hostsMarker: devstack
//	mode: native                  # or "wsl"
//	wslDistro: Ubuntu
//	elevateCommand: sudo
//	serviceCatalog: ~/.devstack/catalog/services.json
//	siteCatalog: ~/.devstack/catalog/sites.json
//	logLevel: info
//
//	webServers:
//	  - name: nginx
//	    port: 80
//	    sitesEnabledDir: ~/.devstack/etc/nginx/sites-enabled
//	    template: ""              # empty uses the built-in template
//
//	services:
//	  - match: "php-*"
//	    launchCommand: "{{ path }}/php-cgi -b 127.0.0.1:9000"
//	    workingDir: "{{ path }}"
//
//	download:
//	  retryMax: 3
//
// Paths may start with "~/"; baseDir-relative defaults are derived after
// merging, so overriding baseDir alone moves every derived path with it.
package config
