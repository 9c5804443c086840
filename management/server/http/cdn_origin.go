package http

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/kivyx/ota/shared/management/http/util"
	"github.com/kivyx/ota/shared/ota/protocol"
)

const (
	// CDNPathPrefix is where the publish directory is mounted
	CDNPathPrefix = "/cdn/"

	etagCacheExpiration = 10 * time.Minute
	etagCacheCleanup    = 30 * time.Minute
)

// CDNOrigin serves a publish directory with strong content-hash ETags so that devices can use
// conditional requests. It never writes to the directory.
type CDNOrigin struct {
	root  string
	etags *cache.Cache
}

// NewCDNOrigin creates a CDNOrigin rooted at dir
func NewCDNOrigin(dir string) *CDNOrigin {
	return &CDNOrigin{
		root:  dir,
		etags: cache.New(etagCacheExpiration, etagCacheCleanup),
	}
}

func (o *CDNOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := path.Clean("/" + strings.TrimPrefix(r.URL.Path, CDNPathPrefix))
	file := filepath.Join(o.root, filepath.FromSlash(rel))

	f, err := os.Open(file)
	if err != nil {
		util.WriteErrorResponse("not found", http.StatusNotFound, w)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		util.WriteErrorResponse("not found", http.StatusNotFound, w)
		return
	}

	etag, err := o.etag(file, info, f)
	if err != nil {
		log.WithContext(r.Context()).Errorf("failed to hash %s: %v", file, err)
		util.WriteErrorResponse("internal server error", http.StatusInternalServerError, w)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	// ServeContent answers If-None-Match with 304 based on the ETag header
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// etag returns the quoted digest of the file, cached by path, size and modification time
func (o *CDNOrigin) etag(file string, info os.FileInfo, f io.ReadSeeker) (string, error) {
	key := fmt.Sprintf("%s:%d:%d", file, info.Size(), info.ModTime().UnixNano())
	if v, ok := o.etags.Get(key); ok {
		return v.(string), nil
	}

	h := protocol.NewDigestHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	etag := fmt.Sprintf("%q", protocol.EncodeDigest(h.Sum(nil)))
	o.etags.SetDefault(key, etag)
	return etag, nil
}
