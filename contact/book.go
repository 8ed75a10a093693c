package contact

import (
	"fmt"
	"os"
	"sync"

	"github.com/opd-ai/peercall/crypto"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Book looks contacts up by public key. The address book itself lives
// outside the signaling core.
type Book interface {
	Lookup(publicKey [32]byte) (*Contact, bool)
}

// MemoryBook is a concurrency-safe Book held in memory.
type MemoryBook struct {
	mu       sync.RWMutex
	contacts map[[32]byte]*Contact
}

// NewMemoryBook creates an empty book.
func NewMemoryBook() *MemoryBook {
	return &MemoryBook{contacts: make(map[[32]byte]*Contact)}
}

// Add inserts or replaces a contact.
func (b *MemoryBook) Add(c *Contact) {
	b.mu.Lock()
	b.contacts[c.PublicKey()] = c
	b.mu.Unlock()
}

// Remove deletes the contact with the given key.
func (b *MemoryBook) Remove(publicKey [32]byte) {
	b.mu.Lock()
	delete(b.contacts, publicKey)
	b.mu.Unlock()
}

// Lookup implements Book.
func (b *MemoryBook) Lookup(publicKey [32]byte) (*Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.contacts[publicKey]
	return c, ok
}

// FindByName returns the first contact with the given name.
func (b *MemoryBook) FindByName(name string) (*Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.contacts {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// All returns every contact in no particular order.
func (b *MemoryBook) All() []*Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Contact, 0, len(b.contacts))
	for _, c := range b.contacts {
		out = append(out, c)
	}
	return out
}

// Len returns the number of contacts.
func (b *MemoryBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contacts)
}

// bookFile is the YAML layout read by LoadYAML:
//
//	contacts:
//	  - name: Alice
//	    public_key: 5d1c...e0
//	    addresses: ["192.168.1.20", "f2:3c:91:aa:10:7e"]
//	    blocked: false
type bookFile struct {
	Contacts []struct {
		Name      string   `yaml:"name"`
		PublicKey string   `yaml:"public_key"`
		Addresses []string `yaml:"addresses"`
		Blocked   bool     `yaml:"blocked"`
	} `yaml:"contacts"`
}

// ParseYAML builds a MemoryBook from YAML data.
func ParseYAML(data []byte) (*MemoryBook, error) {
	var file bookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse contacts: %w", err)
	}

	book := NewMemoryBook()
	for i, entry := range file.Contacts {
		key, err := crypto.ParsePublicKey(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("contact %d (%s): %w", i, entry.Name, err)
		}
		c := New(entry.Name, key, entry.Addresses)
		c.SetBlocked(entry.Blocked)
		book.Add(c)
	}

	return book, nil
}

// LoadYAML reads a contacts file.
func LoadYAML(path string) (*MemoryBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}

	book, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadYAML",
		"path":     path,
		"contacts": book.Len(),
	}).Info("Loaded contacts")

	return book, nil
}
