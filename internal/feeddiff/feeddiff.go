// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package feeddiff parses Atom and RSS documents just enough to split them
// into an envelope and their individual entries, reproducing the source markup
// rather than normalizing it.
package feeddiff

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/pushhub/pushhub/model"
)

// Entry is a single entry or item extracted from a feed document, in document
// order.
type Entry struct {
	// ID is the entry's identifier: <id> for Atom, or the first of <guid>,
	// <link>, <title>, <description> for RSS.
	ID string
	// Content is the entry's complete XML markup.
	Content string
}

// Character data is re-escaped on output so the markup passed along to
// subscribers is equivalent to what the publisher served. Unescaping entities
// could produce XML that no longer validates. Attribute values additionally
// escape the surrounding quote.
var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// rawName renders a possibly prefixed element or attribute name as it
// appeared in the source. Namespace prefixes are deliberately not resolved.
func rawName(name xml.Name) string {
	if name.Space != "" {
		return name.Space + ":" + name.Local
	}
	return name.Local
}

// handler accumulates reconstructed markup in a stack of output levels, two
// per open element: one for the element's own markup and one for its
// children. Closing an element decides whether it is captured as an entry or
// emitted into its parent.
type handler struct {
	format string

	headerFooter string
	entries      []Entry
	entryIndex   map[string]int
	rootClosed   bool

	level int
	stack [][]string

	lastID          string
	lastLink        string
	lastTitle       string
	lastDescription string
}

func (h *handler) push() {
	h.stack = append(h.stack, nil)
}

func (h *handler) pop() []string {
	last := h.stack[len(h.stack)-1]
	h.stack = h.stack[:len(h.stack)-1]
	return last
}

func (h *handler) emit(parts ...string) {
	top := len(h.stack) - 1
	h.stack[top] = append(h.stack[top], parts...)
}

func (h *handler) startElement(token xml.StartElement) {
	h.level++

	h.push()
	h.emit("<", rawName(token.Name))
	for _, attr := range token.Attr {
		h.emit(" ", rawName(attr.Name), `="`, attrEscaper.Replace(attr.Value), `"`)
	}
	h.emit(">")

	h.push()
}

func (h *handler) endElement(token xml.EndElement) error {
	// RawToken does not verify that tags nest properly.
	if len(h.stack) < 2 {
		return errors.Errorf("unexpected closing tag </%s>", rawName(token.Name))
	}

	content := h.pop()
	h.emit(content...)
	h.emit("</", rawName(token.Name), ">")

	err := h.handleEvent(h.level, rawName(token.Name), content)
	if err != nil {
		return err
	}

	h.level--
	return nil
}

func (h *handler) characters(data string) {
	if len(h.stack) == 0 {
		return
	}
	h.emit(textEscaper.Replace(data))
}

func (h *handler) handleEvent(level int, name string, content []string) error {
	switch h.format {
	case model.FeedFormatAtom:
		return h.handleAtomEvent(level, name, content)
	case model.FeedFormatRSS:
		return h.handleRSSEvent(level, name, content)
	default:
		return errors.Errorf("invalid feed format %q", h.format)
	}
}

func (h *handler) handleAtomEvent(level int, name string, content []string) error {
	switch {
	case level == 1:
		if name != "feed" {
			return errors.New("enclosing tag is not <feed></feed>")
		}
		h.headerFooter = strings.Join(h.pop(), "")
		h.rootClosed = true

	case level == 2 && name == "entry":
		h.addEntry(h.lastID, strings.Join(h.pop(), ""))

	case level == 3 && name == "id":
		h.lastID = strings.TrimSpace(strings.Join(content, ""))
		h.emit(h.pop()...)

	default:
		h.emit(h.pop()...)
	}

	return nil
}

func (h *handler) handleRSSEvent(level int, name string, content []string) error {
	switch {
	case level == 1:
		if name != "rss" {
			return errors.New("enclosing tag is not <rss></rss>")
		}
		h.headerFooter = strings.Join(h.pop(), "")
		h.rootClosed = true

	case level == 3 && name == "item":
		itemID := h.lastID
		if itemID == "" {
			itemID = h.lastLink
		}
		if itemID == "" {
			itemID = h.lastTitle
		}
		if itemID == "" {
			itemID = h.lastDescription
		}
		h.addEntry(itemID, strings.Join(h.pop(), ""))
		h.lastID, h.lastLink, h.lastTitle, h.lastDescription = "", "", "", ""

	case level == 4 && name == "guid":
		h.lastID = strings.TrimSpace(strings.Join(content, ""))
		h.emit(h.pop()...)

	case level == 4 && name == "link":
		h.lastLink = strings.TrimSpace(strings.Join(content, ""))
		h.emit(h.pop()...)

	case level == 4 && name == "title":
		h.lastTitle = strings.TrimSpace(strings.Join(content, ""))
		h.emit(h.pop()...)

	case level == 4 && name == "description":
		h.lastDescription = strings.TrimSpace(strings.Join(content, ""))
		h.emit(h.pop()...)

	default:
		h.emit(h.pop()...)
	}

	return nil
}

// addEntry records an entry, replacing any earlier entry with the same id.
func (h *handler) addEntry(id, content string) {
	if i, ok := h.entryIndex[id]; ok {
		h.entries[i].Content = content
		return
	}

	h.entryIndex[id] = len(h.entries)
	h.entries = append(h.entries, Entry{ID: id, Content: content})
}

// Filter splits a feed document into its envelope and entries.
//
// The envelope is the root element with all <entry> (Atom) or <item> (RSS)
// elements removed; comments, processing instructions and the XML declaration
// are dropped as well. Entries are returned in document order, later
// duplicates replacing earlier ones.
func Filter(format string, data []byte) (string, []Entry, error) {
	h := &handler{
		format:     format,
		entryIndex: map[string]int{},
	}

	switch format {
	case model.FeedFormatAtom, model.FeedFormatRSS:
	default:
		return "", nil, errors.Errorf("invalid feed format %q", format)
	}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		// RawToken keeps namespace prefixes exactly as they appeared.
		token, err := decoder.RawToken()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", nil, errors.Wrap(err, "failed to parse feed document")
		}

		switch token := token.(type) {
		case xml.StartElement:
			if h.rootClosed {
				return "", nil, errors.Errorf("unexpected element <%s> after enclosing element", rawName(token.Name))
			}
			h.startElement(token)
		case xml.EndElement:
			err = h.endElement(token)
			if err != nil {
				return "", nil, err
			}
		case xml.CharData:
			h.characters(string(token))
		}
	}

	if !h.rootClosed {
		return "", nil, errors.New("feed document has no closed enclosing element")
	}

	for _, entry := range h.entries {
		if entry.ID != "" {
			continue
		}
		if format == model.FeedFormatAtom {
			return "", nil, errors.Errorf("<entry> element missing <id>: %s", entry.Content)
		}
		return "", nil, errors.Errorf("<item> element missing <guid> or <link>: %s", entry.Content)
	}

	return h.headerFooter, h.entries, nil
}
