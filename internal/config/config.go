// Package config loads the base and profile TOML documents and resolves them
// into the effective build configuration consumed by every pipeline stage.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// NotFoundError reports a missing base or profile configuration file.
type NotFoundError struct {
	Profile string
	Path    string
}

func (e *NotFoundError) Error() string {
	if e.Profile != "" {
		return fmt.Sprintf("profile %q not found at %s", e.Profile, e.Path)
	}
	return fmt.Sprintf("configuration not found at %s", e.Path)
}

// ParseError reports malformed TOML in a configuration file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Base is the on-disk shape of base-config.toml.
type Base struct {
	General  GeneralSection  `toml:"general"`
	Debian   DebianSection   `toml:"debian"`
	Build    BuildSection    `toml:"build"`
	Packages PackagesSection `toml:"packages"`
	Fry      FrySection      `toml:"fry"`
}

// Profile is the on-disk shape of profiles/<name>/profile-config.toml.
type Profile struct {
	General  GeneralSection  `toml:"general"`
	Build    BuildSection    `toml:"build"`
	System   SystemSection   `toml:"system"`
	Packages PackagesSection `toml:"packages"`
	Network  NetworkSection  `toml:"network"`
	Hostapd  HostapdSection  `toml:"hostapd"`
	Dnsmasq  DnsmasqSection  `toml:"dnsmasq"`
}

type GeneralSection struct {
	OSName    string `toml:"os_name"`
	OSVersion string `toml:"os_version"`
	Codename  string `toml:"codename"`
	Brand     string `toml:"brand"`
	Model     string `toml:"model"`
}

type DebianSection struct {
	Suite          string   `toml:"suite"`
	Mirror         string   `toml:"mirror"`
	SecurityMirror string   `toml:"security_mirror"`
	Components     []string `toml:"components"`
}

type BuildSection struct {
	Architecture  string `toml:"architecture"`
	Flavor        string `toml:"flavor"`
	ImageSize     string `toml:"image_size"`
	KernelPackage string `toml:"kernel_package"`
	RootfsType    string `toml:"rootfs_type"`
	Compression   string `toml:"compression"`
}

type SystemSection struct {
	Hostname     string `toml:"hostname"`
	RootPassword string `toml:"root_password"`
}

type PackagesSection struct {
	Core    []string `toml:"core"`
	IoT     []string `toml:"iot"`
	Desktop []string `toml:"desktop"`
	Server  []string `toml:"server"`
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

type FrySection struct {
	APIEndpoint     string `toml:"api_endpoint"`
	BandwidthMining *bool  `toml:"bandwidth_mining"`
	NodeType        string `toml:"node_type"`
}

type NetworkSection struct {
	Ethernet EthernetSection `toml:"ethernet"`
	Wifi     WifiSection     `toml:"wifi"`
	Bridge   BridgeSection   `toml:"bridge"`
	VLANs    []VLANSection   `toml:"vlans"`
}

type EthernetSection struct {
	Interface string `toml:"interface"`
	DHCP      *bool  `toml:"dhcp"`
	Address   string `toml:"address"`
	Gateway   string `toml:"gateway"`
	DNS       string `toml:"dns"`
}

type WifiSection struct {
	Enabled   bool   `toml:"enabled"`
	Interface string `toml:"interface"`
}

type BridgeSection struct {
	Enabled bool     `toml:"enabled"`
	Name    string   `toml:"name"`
	Members []string `toml:"members"`
	DHCP    *bool    `toml:"dhcp"`
	Address string   `toml:"address"`
	Gateway string   `toml:"gateway"`
}

type VLANSection struct {
	ID      int    `toml:"id"`
	Name    string `toml:"name"`
	Parent  string `toml:"parent"`
	DHCP    bool   `toml:"dhcp"`
	Address string `toml:"address"`
}

type HostapdSection struct {
	Enabled   bool   `toml:"enabled"`
	SSID      string `toml:"ssid"`
	Password  string `toml:"password"`
	Interface string `toml:"interface"`
	Channel   int    `toml:"channel"`
	HWMode    string `toml:"hw_mode"`
}

type DnsmasqSection struct {
	Enabled   bool   `toml:"enabled"`
	Interface string `toml:"interface"`
	DHCPRange string `toml:"dhcp_range"`
	Gateway   string `toml:"gateway"`
	DNS       string `toml:"dns"`
}

// LoadBase reads base-config.toml from the project root.
func LoadBase(paths Paths) (*Base, error) {
	var base Base
	if err := decodeTOML(paths.BaseConfig(), &base); err != nil {
		return nil, err
	}
	return &base, nil
}

// LoadProfile reads the named profile's configuration. A missing profile is a
// NotFoundError; the caller reports it to the operator and exits.
func LoadProfile(paths Paths, name string) (*Profile, error) {
	path := paths.ProfileConfig(name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Profile: name, Path: path}
		}
		return nil, fmt.Errorf("stat profile config %s: %w", path, err)
	}

	var profile Profile
	if err := decodeTOML(path, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func decodeTOML(path string, v any) error {
	if _, err := toml.DecodeFile(path, v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &NotFoundError{Path: path}
		}
		return &ParseError{Path: path, Err: err}
	}
	return nil
}
