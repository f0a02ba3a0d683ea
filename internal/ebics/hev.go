package ebics

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexusbank/gateway/internal/gwerrors"
	"github.com/nexusbank/gateway/internal/xmlutil"
)

// SupportedVersion is one (protocol, version) pair a bank host advertises in
// its HEV response.
type SupportedVersion struct {
	ProtocolVersion string // e.g. "H004"
	VersionNumber   string // e.g. "02.50"
}

// ProbeHEV sends the unsigned HEV capability request and returns the list of
// protocol/version pairs the host supports. It never changes connection
// state: it is a pure capability check, usable before any key exchange.
func ProbeHEV(ctx context.Context, tr Transport, baseURL, hostID string) ([]SupportedVersion, error) {
	reqBody := []byte(xmlDecl + `<ebicsHEVRequest xmlns="http://www.ebics.org/H000"><HostID>` + hostID + `</HostID></ebicsHEVRequest>`)

	status, contentType, respBody, err := tr.Post(ctx, baseURL, "text/xml", reqBody)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindTransport, "HEV probe request failed", err)
	}
	if status != 200 {
		return nil, gwerrors.New(gwerrors.KindTransport, fmt.Sprintf("HEV probe returned HTTP status %d", status))
	}
	if !AcceptableContentType(contentType) {
		return nil, gwerrors.New(gwerrors.KindProtocol, fmt.Sprintf("HEV probe returned unexpected content type %q", contentType))
	}

	root, err := xmlutil.Parse(respBody)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindParse, "parse HEV response", err)
	}

	var versions []SupportedVersion
	err = xmlutil.EachChild(root, func(n *xmlutil.Node) error {
		if n.Local != "VersionNumber" {
			return nil
		}
		versions = append(versions, SupportedVersion{
			ProtocolVersion: n.Attr("ProtocolVersion"),
			VersionNumber:   strings.TrimSpace(n.Text),
		})
		return nil
	})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindParse, "walk HEV versions", err)
	}

	return versions, nil
}

// SupportsH004 reports whether versions includes the H004 protocol this
// engine speaks.
func SupportsH004(versions []SupportedVersion) bool {
	for _, v := range versions {
		if v.ProtocolVersion == "H004" {
			return true
		}
	}
	return false
}
