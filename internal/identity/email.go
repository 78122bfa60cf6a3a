package identity

import (
	"regexp"
	"strings"
)

var guidLocalPart = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// LooksSynthetic reports whether email was generated by the directory rather
// than belonging to a mailbox: tenant domains, GUID local parts and guest markers.
func LooksSynthetic(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	if strings.Contains(strings.ToUpper(email), "#EXT#") {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	local, domain := email[:at], strings.ToLower(email[at+1:])
	if domain == "onmicrosoft.com" || strings.HasSuffix(domain, ".onmicrosoft.com") {
		return true
	}
	return len(local) == 36 && guidLocalPart.MatchString(local)
}

// Candidates extracts the display name and best-known email of an account.
// Email priority: email, emails[0] or mail, preferred_username, then the
// provider username. The first non-empty value wins.
func Candidates(a *Account) (name, email string) {
	if a == nil {
		return "", ""
	}
	c := a.IDTokenClaims

	name = firstNonEmpty(c.String("name"), strings.TrimSpace(a.Name))
	if name == "" {
		given, family := c.String("given_name"), c.String("family_name")
		name = strings.TrimSpace(given + " " + family)
	}

	var generic string
	if list := c.Strings("emails"); len(list) > 0 {
		generic = strings.TrimSpace(list[0])
	}
	if generic == "" {
		generic = c.String("mail")
	}
	email = firstNonEmpty(
		c.String("email"),
		generic,
		c.String("preferred_username"),
		strings.TrimSpace(a.Username),
	)
	return name, email
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
