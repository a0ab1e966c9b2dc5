package web

import (
	"encoding/json"
	"fmt"

	"github.com/magpie-social/magpie/db"
	"github.com/magpie-social/magpie/util"
)

// NodeInfoDiscovery is the .well-known/nodeinfo document pointing at the
// versioned schema endpoint.
type NodeInfoDiscovery struct {
	Links []WebFingerLink `json:"links"`
}

// NodeInfo is the nodeinfo 2.0 schema document.
type NodeInfo struct {
	Version  string `json:"version"`
	Software struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"software"`
	Protocols         []string               `json:"protocols"`
	Services          NodeInfoServices       `json:"services"`
	OpenRegistrations bool                   `json:"openRegistrations"`
	Usage             NodeInfoUsage          `json:"usage"`
	Metadata          map[string]interface{} `json:"metadata"`
}

type NodeInfoServices struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

type NodeInfoUsage struct {
	Users struct {
		Total int `json:"total"`
	} `json:"users"`
	LocalPosts int `json:"localPosts"`
}

// GetNodeInfoDiscovery renders the discovery document.
func GetNodeInfoDiscovery(conf *util.AppConfig) (string, error) {
	discovery := NodeInfoDiscovery{
		Links: []WebFingerLink{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				Href: fmt.Sprintf("https://%s/nodeinfo/2.0", conf.Conf.SslDomain),
			},
		},
	}

	jsonBytes, err := json.Marshal(discovery)
	if err != nil {
		return "{}", err
	}
	return string(jsonBytes), nil
}

// GetNodeInfo renders the 2.0 schema document. A single-user instance
// always reports one user; localPosts is the public bookmark count.
func GetNodeInfo(store *db.DB) (string, error) {
	posts, err := store.CountBookmarks()
	if err != nil {
		return "{}", err
	}

	info := NodeInfo{
		Version:   "2.0",
		Protocols: []string{"activitypub"},
		Services: NodeInfoServices{
			Inbound:  []string{},
			Outbound: []string{},
		},
		OpenRegistrations: false,
		Metadata:          map[string]interface{}{},
	}
	info.Software.Name = util.Name
	info.Software.Version = util.GetVersion()
	info.Usage.Users.Total = 1
	info.Usage.LocalPosts = posts

	jsonBytes, err := json.Marshal(info)
	if err != nil {
		return "{}", err
	}
	return string(jsonBytes), nil
}
