package domain

// User is the evaluation context for a single end user.
type User struct {
	Key       string         `json:"key"`
	Secondary string         `json:"secondary,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Country   string         `json:"country,omitempty"`
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name,omitempty"`
	Anonymous bool           `json:"anonymous,omitempty"`
	Custom    map[string]any `json:"custom,omitempty"`
}

// Attribute returns the value of a built-in or custom attribute.
// Built-in attributes shadow custom ones with the same name.
func (u User) Attribute(name string) (any, bool) {
	switch name {
	case "key":
		return u.Key, true
	case "secondary":
		return stringAttr(u.Secondary)
	case "ip":
		return stringAttr(u.IP)
	case "country":
		return stringAttr(u.Country)
	case "email":
		return stringAttr(u.Email)
	case "name":
		return stringAttr(u.Name)
	case "anonymous":
		return u.Anonymous, true
	}

	v, ok := u.Custom[name]
	return v, ok
}

func stringAttr(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

// With returns a copy of u with a custom attribute set.
func (u User) With(name string, value any) User {
	custom := make(map[string]any, len(u.Custom)+1)
	for k, v := range u.Custom {
		custom[k] = v
	}
	custom[name] = value
	u.Custom = custom
	return u
}
