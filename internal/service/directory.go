package service

import (
	"context"
	"strings"

	"github.com/MrEthical07/mail2fa"
)

// StaticDirectory serves users listed in the configuration file. Emails
// match case-insensitively.
type StaticDirectory struct {
	byID    map[string]User
	byEmail map[string]string
}

func NewStaticDirectory(users []User) *StaticDirectory {
	d := &StaticDirectory{
		byID:    make(map[string]User, len(users)),
		byEmail: make(map[string]string, len(users)),
	}
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		d.byID[u.ID] = u
		if u.Email != "" {
			d.byEmail[strings.ToLower(strings.TrimSpace(u.Email))] = u.ID
		}
	}
	return d
}

func (d *StaticDirectory) LookupUserByEmail(_ context.Context, email string) (string, error) {
	return d.byEmail[strings.ToLower(strings.TrimSpace(email))], nil
}

func (d *StaticDirectory) ResolveDeliveryTarget(_ context.Context, identity string) (mail2fa.DeliveryTarget, error) {
	u, ok := d.byID[identity]
	if !ok {
		return mail2fa.DeliveryTarget{}, nil
	}
	return mail2fa.DeliveryTarget{
		Identity:  u.ID,
		Address:   u.Email,
		FirstName: u.FirstName,
	}, nil
}

// User returns the configured user with id.
func (d *StaticDirectory) User(id string) (User, bool) {
	u, ok := d.byID[id]
	return u, ok
}
