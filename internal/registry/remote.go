package registry

import (
	"net/http"
	"time"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/httpclient"
	"github.com/zommehq/buntime/internal/util"
)

// fetchTimeout bounds how long a remote archive fetch may take before
// the install is abandoned.
const fetchTimeout = 2 * time.Minute

// remoteClient is shared by every URL-based install; archive fetches
// get a tighter redirect budget than httpclient's default since a
// legitimate release asset is never more than a couple of hops away.
var remoteClient = httpclient.NewSaferClientWithOptions(fetchTimeout, httpclient.SaferClientOptions{
	MaxRedirects: util.Ptr(5),
})

// InstallAppFromURL fetches archive from url through the SSRF-guarded
// client and installs it the same way InstallApp installs an uploaded
// archive. An empty label is not defaulted; it skips the label/manifest
// name check.
func (r *Registry) InstallAppFromURL(label, url string) error {
	return r.fetchAndInstall(r.workerDirs[0], label, url)
}

// InstallPluginFromURL is InstallAppFromURL's plugin-directory counterpart.
func (r *Registry) InstallPluginFromURL(label, url string) error {
	return r.fetchAndInstall(r.pluginDirs[0], label, url)
}

func (r *Registry) fetchAndInstall(root, label, url string) error {
	resp, err := remoteClient.Get(url)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	return install(root, label, resp.Body)
}
