package web

import (
	"encoding/json"
	"fmt"

	"github.com/magpie-social/magpie/db"
	"github.com/magpie-social/magpie/util"
)

// WebFingerLink is one entry in a webfinger response.
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// WebFingerResponse maps an acct: resource to the actor document.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

// GetWebfinger answers acct: lookups for the local account. Only the
// configured single user resolves; everything else is a miss.
func GetWebfinger(store *db.DB, conf *util.AppConfig, user string) (string, error) {
	acc, err := store.ReadAccount(user)
	if err != nil {
		return GetWebFingerNotFound(), err
	}

	actorURI := fmt.Sprintf("https://%s/u/%s", conf.Conf.SslDomain, acc.Username)
	resp := WebFingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, conf.Conf.SslDomain),
		Aliases: []string{actorURI},
		Links: []WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actorURI,
			},
		},
	}

	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		return GetWebFingerNotFound(), err
	}
	return string(jsonBytes), nil
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
