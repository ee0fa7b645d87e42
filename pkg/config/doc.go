// Package config loads the mcauth YAML configuration: the Azure app the
// device flow signs in with, the federation endpoints, retry budget and
// where accounts are stored. Environment variables override the file.
package config
