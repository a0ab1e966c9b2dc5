package web

import (
	"fmt"
	"time"

	"github.com/gorilla/feeds"
	"github.com/magpie-social/magpie/db"
	"github.com/magpie-social/magpie/util"
)

const feedLimit = 50

// GetAtomFeed renders the public bookmarks as an Atom feed at /index.xml.
func GetAtomFeed(store *db.DB, conf *util.AppConfig) (string, error) {
	bookmarks, err := store.ListPublicBookmarks(feedLimit)
	if err != nil {
		return "", err
	}

	siteLink := fmt.Sprintf("https://%s/", conf.Conf.SslDomain)
	title := conf.Conf.DisplayName
	if title == "" {
		title = conf.Conf.Account
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: siteLink},
		Description: conf.Conf.Summary,
		Author:      &feeds.Author{Name: conf.Conf.Account},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, b := range bookmarks {
		feedItems = append(feedItems,
			&feeds.Item{
				Id:          fmt.Sprintf("https://%s/bookmark/%d", conf.Conf.SslDomain, b.Id),
				Title:       b.Title,
				Link:        &feeds.Link{Href: b.URL},
				Description: b.Description,
				Created:     b.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToAtom()
}
