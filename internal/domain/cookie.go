package domain

import "time"

// Cookie is a response cookie with the attributes the session engine controls.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// CookieJar reads request cookies and writes response cookies.
type CookieJar interface {
	Read(name string) (string, bool)
	Write(cookie Cookie)
}
