package davtest

import (
	"io"
	"net/http"
	"strings"

	"github.com/beevik/etree"
)

// handlePropfind answers the two lookups behind calendar home discovery:
// current-user-principal on the root and calendar-home-set on the principal.
func (g *Gateway) handlePropfind(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		http.Error(w, "Invalid PROPFIND body", http.StatusBadRequest)
		return
	}

	principal := PrincipalsPath + g.homeID + "/"
	var propName, space, href string
	switch {
	case hasProp(doc.Root(), "current-user-principal"):
		propName, space, href = "current-user-principal", "d", principal
	case hasProp(doc.Root(), "calendar-home-set") && strings.TrimRight(req.URL.Path, "/")+"/" == principal:
		propName, space, href = "calendar-home-set", "cal", "/calendars/"+g.homeID+"/"
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	resp := etree.NewDocument()
	resp.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	ms := resp.CreateElement("d:multistatus")
	ms.CreateAttr("xmlns:d", "DAV:")
	ms.CreateAttr("xmlns:cal", "urn:ietf:params:xml:ns:caldav")
	r := ms.CreateElement("d:response")
	r.CreateElement("d:href").SetText(req.URL.Path)
	propstat := r.CreateElement("d:propstat")
	propstat.CreateElement("d:prop").CreateElement(space+":"+propName).CreateElement("d:href").SetText(href)
	propstat.CreateElement("d:status").SetText("HTTP/1.1 200 OK")

	data, err := resp.WriteToBytes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(data)
}

func hasProp(el *etree.Element, tag string) bool {
	for _, child := range el.ChildElements() {
		if child.Tag == tag || hasProp(child, tag) {
			return true
		}
	}
	return false
}
