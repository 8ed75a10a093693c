// Package contact implements the peer identities the signaling core talks to.
//
// A Contact is identified by its public key and reachable through an ordered
// list of address strings. The address book owning contacts is external;
// this package supplies the Book interface the core consumes, an in-memory
// implementation, a YAML loader for it, and the expansion of a contact's
// addresses into dialable socket addresses.
//
// Example:
//
//	c := contact.New("Alice", publicKey, []string{"192.168.1.20", "f2:3c:91:aa:10:7e"})
//	book := contact.NewMemoryBook()
//	book.Add(c)
//
//	addrs := contact.NewExpander(10001).Expand(c, false)
package contact
