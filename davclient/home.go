package davclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/beevik/etree"
	"github.com/cyp0633/esncal/internal/httpclient"
)

const (
	nsDAV    = "DAV:"
	nsCalDAV = "urn:ietf:params:xml:ns:caldav"
)

// ErrPropertyNotFound is returned when a PROPFIND answer lacks the requested href.
var ErrPropertyNotFound = errors.New("property not found")

// CalendarHome resolves the calendar home id of the principal at
// principalPath. With an empty principalPath the current user principal is
// looked up first.
func (c *davClient) CalendarHome(ctx context.Context, principalPath string) (string, error) {
	if principalPath == "" {
		principal, err := c.propfindHref(ctx, "/", "D", nsDAV, "current-user-principal")
		if err != nil {
			return "", fmt.Errorf("failed to find current-user-principal: %w", err)
		}
		principalPath = principal
	}

	home, err := c.propfindHref(ctx, principalPath, "C", nsCalDAV, "calendar-home-set")
	if err != nil {
		return "", fmt.Errorf("failed to find calendar-home-set: %w", err)
	}

	id := homeIDFromHref(home)
	c.logger.Debug("resolved calendar home", "principal", principalPath, "href", home, "home_id", id)
	return id, nil
}

// propfindHref asks for a single href-valued property and returns the href.
func (c *davClient) propfindHref(ctx context.Context, target, prefix, namespace, name string) (string, error) {
	body, err := buildPropfind(prefix, namespace, name)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.DoPROPFIND(ctx, target, 0, body)
	if err != nil {
		return "", err
	}
	if err := httpclient.Expect(resp, "PROPFIND", target, http.StatusMultiStatus); err != nil {
		return "", err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(resp.Body); err != nil {
		return "", fmt.Errorf("failed to parse multistatus: %w", err)
	}
	if doc.Root() == nil {
		return "", fmt.Errorf("%w: empty multistatus", ErrPropertyNotFound)
	}

	prop := findElement(doc.Root(), name)
	if prop == nil {
		return "", fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	href := findElement(prop, "href")
	if href == nil || href.Text() == "" {
		return "", fmt.Errorf("%w: %s has no href", ErrPropertyNotFound, name)
	}
	return href.Text(), nil
}

func buildPropfind(prefix, namespace, name string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("D:propfind")
	root.CreateAttr("xmlns:D", nsDAV)
	if prefix != "D" {
		root.CreateAttr("xmlns:"+prefix, namespace)
	}
	root.CreateElement("D:prop").CreateElement(prefix + ":" + name)
	return doc.WriteToBytes()
}

// findElement does a depth-first search for the first element with the given
// local name, whatever its namespace prefix.
func findElement(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}
