package storage

import (
	"database/sql"
	"time"

	"github.com/shadowghost/core/pkg/network"
)

// SaveContact adds or updates a contact.
func (s *Store) SaveContact(contact network.Contact) error {
	query := `
		INSERT INTO contacts (id, name, address, status, trust_level, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			status = excluded.status,
			trust_level = excluded.trust_level,
			last_seen = excluded.last_seen
	`
	_, err := s.db.Exec(
		query,
		contact.ID,
		contact.Name,
		contact.Address,
		string(contact.Status),
		string(contact.TrustLevel),
		contact.LastSeen.Unix(),
	)
	return err
}

// Contact retrieves one contact by id.
func (s *Store) Contact(id string) (network.Contact, error) {
	row := s.db.QueryRow(
		`SELECT id, name, address, status, trust_level, last_seen
		 FROM contacts WHERE id = ?`, id,
	)
	contact, err := scanContact(row.Scan)
	if err == sql.ErrNoRows {
		return network.Contact{}, ErrNotFound
	}
	return contact, err
}

// Contacts retrieves every stored contact ordered by name.
func (s *Store) Contacts() ([]network.Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, name, address, status, trust_level, last_seen
		 FROM contacts ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Contact
	for rows.Next() {
		contact, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, contact)
	}
	return out, rows.Err()
}

// DeleteContact removes a contact.
func (s *Store) DeleteContact(id string) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	return err
}

func scanContact(scan func(...any) error) (network.Contact, error) {
	var contact network.Contact
	var status, trust string
	var lastSeen int64
	if err := scan(&contact.ID, &contact.Name, &contact.Address,
		&status, &trust, &lastSeen); err != nil {
		return network.Contact{}, err
	}
	contact.Status = network.ContactStatus(status)
	contact.TrustLevel = network.TrustLevel(trust)
	contact.LastSeen = time.Unix(lastSeen, 0)
	return contact, nil
}
