package mailbus

import "strings"

// Namespaces commonly used in mailbox paths.
const (
	NamespacePrivate = "#private"
	NamespaceShared  = "#shared"
)

// MailboxPath identifies a mailbox by namespace, owner and hierarchical name.
// It is comparable and can be used as a map key.
type MailboxPath struct {
	Namespace string `json:"namespace"`
	User      string `json:"user,omitempty"`
	Name      string `json:"name"`
}

// NewMailboxPath returns a path in the private namespace of user.
func NewMailboxPath(user, name string) MailboxPath {
	return MailboxPath{Namespace: NamespacePrivate, User: user, Name: name}
}

// IsZero reports whether the path has no name.
func (p MailboxPath) IsZero() bool {
	return p.Name == ""
}

// String renders the path as namespace:user:name, omitting an empty user.
// Distinct paths may render alike; use Key to identify a path in storage.
func (p MailboxPath) String() string {
	var sb strings.Builder
	sb.WriteString(p.Namespace)
	sb.WriteByte(':')
	if p.User != "" {
		sb.WriteString(p.User)
		sb.WriteByte(':')
	}
	sb.WriteString(p.Name)
	return sb.String()
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// Key returns an encoding of the path that is distinct for distinct paths.
// Every segment is present and separators inside a segment are escaped. The
// cluster backends store registrations under it.
func (p MailboxPath) Key() string {
	return keyEscaper.Replace(p.Namespace) + ":" +
		keyEscaper.Replace(p.User) + ":" +
		keyEscaper.Replace(p.Name)
}
