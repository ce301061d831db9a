package model

// User — локально сохранённая запись о вошедшем пользователе.
type User struct {
	ID        string `json:"id"`
	Prenom    string `json:"prenom,omitempty"`
	Nom       string `json:"nom,omitempty"`
	Telephone string `json:"telephone,omitempty"`
}

type Contact struct {
	ID        string `json:"id"`
	Prenom    string `json:"prenom"`
	Nom       string `json:"nom"`
	Telephone string `json:"telephone"`
}

func (c *Contact) FullName() string {
	switch {
	case c.Prenom == "":
		return c.Nom
	case c.Nom == "":
		return c.Prenom
	}
	return c.Prenom + " " + c.Nom
}

type Group struct {
	ID      string   `json:"id"`
	Nom     string   `json:"nom"`
	Membres []string `json:"membres"`
}
