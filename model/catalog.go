package model

import "strings"

// Domain is a DFS regulatory domain.
type Domain int

const (
	DomainUninit Domain = iota
	DomainFCC
	DomainETSI
	DomainMKK
)

func (d Domain) String() string {
	switch d {
	case DomainFCC:
		return "FCC"
	case DomainETSI:
		return "ETSI"
	case DomainMKK:
		return "MKK"
	default:
		return "UNINIT"
	}
}

// ParseDomain maps a textual domain name to a Domain.
func ParseDomain(s string) Domain {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FCC":
		return DomainFCC
	case "ETSI":
		return DomainETSI
	case "MKK":
		return DomainMKK
	default:
		return DomainUninit
	}
}

// RequiresPrecac reports whether the domain clears channels ahead of use.
// Only ETSI allows a cleared channel to be occupied later without a fresh CAC.
func (d Domain) RequiresPrecac() bool { return d == DomainETSI }

// CatalogChannel is one channel the radio may legally operate on in the
// current regulatory domain.
type CatalogChannel struct {
	Channel  Channel `json:"channel"`
	Width    Width   `json:"-"`
	WidthMHz int     `json:"width_mhz"`
	DFS      bool    `json:"dfs"`
}

// Normalize fills Width from WidthMHz (or the reverse) after decoding.
func (c *CatalogChannel) Normalize() {
	if c.Width == WidthUnknown && c.WidthMHz != 0 {
		c.Width = ParseWidth(c.WidthMHz)
	}
	if c.WidthMHz == 0 {
		c.WidthMHz = c.Width.MHz()
	}
}
