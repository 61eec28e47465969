// ROA snapshot importer: downloads/reads snapshot files and feeds
// their records into a prefix table.

package roa

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/cloudflare/gortr/prefixfile"
	log "github.com/sirupsen/logrus"

	"github.com/bgpsec/roafetch/config"
	"github.com/bgpsec/roafetch/pfxtable"
)

// A single corrupt line must not discard an otherwise-valid snapshot:
// record-level failures are dropped and counted, only file-level
// failures abort the import. ErrorSample keeps the first few drop
// reasons for observability.
type ImportResult struct {
	Inserted int
	Dropped  int

	ErrorSample []error
}

const errorSampleSize = 8

func (res *ImportResult) drop(file string, line int, err error) {
	res.Dropped++
	if len(res.ErrorSample) < errorSampleSize {
		res.ErrorSample = append(res.ErrorSample, fmt.Errorf("%s:%d: %v", file, line, err))
	}
	log.Warnf("Dropping ROA record %s:%d: %v", file, line, err)
}

func (res *ImportResult) merge(other *ImportResult) {
	res.Inserted += other.Inserted
	res.Dropped += other.Dropped
	for _, err := range other.ErrorSample {
		if len(res.ErrorSample) < errorSampleSize {
			res.ErrorSample = append(res.ErrorSample, err)
		}
	}
}

type HTTPFetcher struct {
	UserAgent string
	Client    *http.Client
}

func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	return &HTTPFetcher{
		UserAgent: userAgent,
		Client:    &http.Client{},
	}
}

func (f *HTTPFetcher) GetFile(url string) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("http status %d fetching %q", res.StatusCode, url)
	}
	return io.ReadAll(res.Body)
}

var DefaultFetcher = NewHTTPFetcher("roafetch (+https://github.com/bgpsec/roafetch)")

// ParseURLs splits a comma-separated list of snapshot locations for
// one resolved timestamp and imports each in sequence. Remote
// locations are fetched over HTTP, everything else is read locally.
func ParseURLs(cfg *config.Config, urlList string, table *pfxtable.Table) (*ImportResult, error) {
	if err := cfg.Usable(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(urlList) == "" {
		return nil, config.NewError(config.ERROR_MALFORMED_SPEC, urlList, "no snapshot URL given")
	}

	urls := make([]string, 0)
	for _, url := range strings.Split(urlList, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			return nil, config.NewError(config.ERROR_MALFORMED_SPEC, urlList, "empty URL in snapshot list")
		}
		urls = append(urls, url)
	}

	total := &ImportResult{}
	for _, url := range urls {
		var res *ImportResult
		var err error
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			res, err = importRemote(url, table)
		} else {
			res, err = ImportROAFile(url, table)
		}
		if err != nil {
			return total, err
		}
		total.merge(res)
	}
	return total, nil
}

func importRemote(url string, table *pfxtable.Table) (*ImportResult, error) {
	data, err := DefaultFetcher.GetFile(url)
	if err != nil {
		return nil, config.WrapExternal(err, url, "fetching ROA snapshot")
	}
	return importData(url, data, table)
}

// ImportROAFile reads a snapshot file and converts every record into
// a prefix table entry.
func ImportROAFile(path string, table *pfxtable.Table) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, config.WrapExternal(err, path, "reading ROA snapshot")
	}
	return importData(path, data, table)
}

func importData(name string, data []byte, table *pfxtable.Table) (*ImportResult, error) {
	if strings.HasSuffix(name, ".json") {
		return importROAList(name, data, table)
	}
	return importLines(name, data, table)
}

// Line format: "asn,prefix/len,maxlen[,trust-anchor]". Comment and
// header lines are skipped.
func importLines(name string, data []byte, table *pfxtable.Table) (*ImportResult, error) {
	res := &ImportResult{}

	var seen int
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "ASN,") {
			continue
		}
		seen++

		asn, address, minLen, maxLen, err := parseRecordLine(line)
		if err != nil {
			res.drop(name, i+1, err)
			continue
		}
		if err := pfxtable.AddRecord(asn, address, minLen, maxLen, table); err != nil {
			res.drop(name, i+1, err)
			continue
		}
		res.Inserted++
	}

	if seen > 0 && res.Inserted == 0 {
		return res, config.WrapExternal(fmt.Errorf("%d records, none valid", seen), name, "empty ROA snapshot")
	}
	log.Debugf("Imported %s: %d records, %d dropped", name, res.Inserted, res.Dropped)
	return res, nil
}

func parseRecordLine(line string) (asn uint32, address string, minLen, maxLen uint8, err error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return 0, "", 0, 0, fmt.Errorf("expected at least 3 fields, got %d", len(fields))
	}

	asnText := strings.TrimPrefix(strings.TrimSpace(fields[0]), "AS")
	asn64, err := strconv.ParseUint(asnText, 10, 32)
	if err != nil {
		return 0, "", 0, 0, fmt.Errorf("malformed ASN %q", fields[0])
	}

	prefix := strings.TrimSpace(fields[1])
	slash := strings.Index(prefix, "/")
	if slash < 0 {
		return 0, "", 0, 0, fmt.Errorf("prefix %q has no length", prefix)
	}
	length, err := strconv.ParseUint(prefix[slash+1:], 10, 8)
	if err != nil {
		return 0, "", 0, 0, fmt.Errorf("malformed prefix length in %q", prefix)
	}

	max64, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 8)
	if err != nil {
		return 0, "", 0, 0, fmt.Errorf("malformed max length %q", fields[2])
	}

	return uint32(asn64), prefix[:slash], uint8(length), uint8(max64), nil
}

// importROAList accepts snapshots in the GoRTR/OctoRPKI output.json
// format.
func importROAList(name string, data []byte, table *pfxtable.Table) (*ImportResult, error) {
	var roalist prefixfile.ROAList
	if err := json.Unmarshal(data, &roalist); err != nil {
		return nil, config.WrapExternal(err, name, "decoding ROA list")
	}

	res := &ImportResult{}
	for i, roa := range roalist.Data {
		asn, err := roa.GetASN2()
		if err != nil {
			res.drop(name, i, err)
			continue
		}
		prefix, err := roa.GetPrefix2()
		if err != nil {
			res.drop(name, i, err)
			continue
		}
		ones, _ := prefix.Mask.Size()
		if err := pfxtable.AddRecord(asn, prefix.IP.String(), uint8(ones), roa.Length, table); err != nil {
			res.drop(name, i, err)
			continue
		}
		res.Inserted++
	}

	if len(roalist.Data) > 0 && res.Inserted == 0 {
		return res, config.WrapExternal(fmt.Errorf("%d records, none valid", len(roalist.Data)), name, "empty ROA snapshot")
	}
	log.Debugf("Imported %s: %d records, %d dropped", name, res.Inserted, res.Dropped)
	return res, nil
}
