// Client for the ROA broker: lists the snapshot files available for
// the requested projects, collectors and time windows.

package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/bgpsec/roafetch/config"
	"github.com/bgpsec/roafetch/history"
)

type Client struct {
	URL       string
	UserAgent string

	// SSHOptions is the opaque "user,privkey,hostkey" triple for the
	// broker's retrieval transport, passed through unmodified.
	SSHOptions string

	Client *http.Client
}

func NewClient(url, sshOptions string) *Client {
	return &Client{
		URL:        url,
		UserAgent:  "roafetch (+https://github.com/bgpsec/roafetch)",
		SSHOptions: sshOptions,
		Client:     &http.Client{},
	}
}

type listingJSON struct {
	Metadata struct {
		Start  uint32 `json:"start"`
		MaxEnd uint32 `json:"max_end"`
	} `json:"metadata"`
	// Snapshot timestamp to comma-separated URL list.
	Data map[string]string `json:"data"`
}

// Fetch requests the snapshot listing for one rendered scope. Broker
// failures are surfaced unchanged as external errors; the caller owns
// the retry policy.
func (c *Client) Fetch(projects, collectors, intervals string) (*history.Window, error) {
	req, err := http.NewRequest("GET", c.URL, nil)
	if err != nil {
		return nil, config.WrapExternal(err, c.URL, "building broker request")
	}
	req.Header.Set("User-Agent", c.UserAgent)

	q := req.URL.Query()
	q.Set("projects", projects)
	q.Set("collectors", collectors)
	if intervals != "" {
		q.Set("intervals", intervals)
	}
	req.URL.RawQuery = q.Encode()

	log.Debugf("Broker request %v", req.URL)

	res, err := c.Client.Do(req)
	if err != nil {
		return nil, config.WrapExternal(err, c.URL, "fetching broker listing")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, config.WrapExternal(fmt.Errorf("http status %d", res.StatusCode), c.URL, "fetching broker listing")
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, config.WrapExternal(err, c.URL, "reading broker listing")
	}

	return decodeListing(c.URL, data)
}

func decodeListing(url string, data []byte) (*history.Window, error) {
	var listing listingJSON
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, config.WrapExternal(err, url, "decoding broker listing")
	}

	w := &history.Window{
		Start:     listing.Metadata.Start,
		MaxEnd:    listing.Metadata.MaxEnd,
		Snapshots: make(map[uint32][]string),
	}
	for key, urlList := range listing.Data {
		ts, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, config.WrapExternal(fmt.Errorf("non-numeric timestamp %q", key), url, "decoding broker listing")
		}
		urls := make([]string, 0)
		for _, u := range strings.Split(urlList, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			log.Warnf("Broker listed no URLs for timestamp %s, skipping", key)
			continue
		}
		w.Snapshots[uint32(ts)] = urls
	}
	return w, nil
}

// FetchConfig populates every scope of the configuration. Discrete
// mode issues one listing request per project/collector pair, unified
// mode one merged request.
func (c *Client) FetchConfig(cfg *config.Config) error {
	if err := cfg.Usable(); err != nil {
		return err
	}

	if cfg.Input.Unified {
		w, err := c.Fetch(cfg.Input.BrokerProjects(), cfg.Input.BrokerCollectors(), cfg.Input.BrokerIntervals())
		if err != nil {
			return err
		}
		return cfg.PopulateScope(config.UnifiedScope, w)
	}

	for _, scope := range cfg.Scopes() {
		w, err := c.Fetch(scope.Project, scope.Collector, cfg.Input.BrokerIntervals())
		if err != nil {
			return err
		}
		if err := cfg.PopulateScope(scope, w); err != nil {
			return err
		}
	}
	return nil
}
