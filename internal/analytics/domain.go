package analytics

import "fmt"

// Domain identifies a business area whose aggregates are cached and
// invalidated as a unit. The set is closed; every strategy and TTL table is
// defined exhaustively over it.
type Domain string

const (
	DomainCampaigns   Domain = "campaigns"
	DomainDomains     Domain = "domains"
	DomainMailboxes   Domain = "mailboxes"
	DomainLeads       Domain = "leads"
	DomainTemplates   Domain = "templates"
	DomainBilling     Domain = "billing"
	DomainCrossDomain Domain = "crossDomain"
)

// Domains returns the closed domain set in its canonical order.
func Domains() []Domain {
	return []Domain{
		DomainCampaigns,
		DomainDomains,
		DomainMailboxes,
		DomainLeads,
		DomainTemplates,
		DomainBilling,
		DomainCrossDomain,
	}
}

// Valid reports whether d is a member of the closed domain set.
func (d Domain) Valid() bool {
	switch d {
	case DomainCampaigns, DomainDomains, DomainMailboxes, DomainLeads,
		DomainTemplates, DomainBilling, DomainCrossDomain:
		return true
	}
	return false
}

// ParseDomain resolves a configuration or API string into a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, s)
	}
	return d, nil
}
