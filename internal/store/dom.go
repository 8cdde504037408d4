package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
)

const (
	domNamespace     = "dom"
	domIDPrefix      = "dom"
	domFragmentCache = 64
)

// DOMStore persists parsed HTML documents split into node-count chunks.
// The full serialized document is the content-addressed payload; chunks
// are sibling blobs enabling selector queries without loading the page.
type DOMStore struct {
	base      *baseStore
	chunkSize int
	logger    *slog.Logger

	// fragments caches parsed chunk fragments keyed by "<id>#<index>".
	fragments *lru.Cache[string, *goquery.Document]
}

// NewDOMStore creates a DOM store rooted at baseDir. chunkSize is the
// maximum number of element nodes per chunk.
func NewDOMStore(baseDir string, chunkSize int, logger *slog.Logger) (*DOMStore, error) {
	if chunkSize < 1 {
		chunkSize = 75
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, *goquery.Document](domFragmentCache)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "DOMStore.New", "fragment cache init failed", err)
	}
	return &DOMStore{
		base:      newBaseStore(baseDir, domNamespace, CategoryHTML, domIDPrefix, logger),
		chunkSize: chunkSize,
		logger:    logger,
		fragments: cache,
	}, nil
}

// Initialize creates the store directory.
func (s *DOMStore) Initialize(ctx context.Context) error {
	return s.base.initialize()
}

// Store parses rawHTML, chunks it, and persists payload, chunks, and
// header. Malformed HTML is accepted best-effort; input that parses to
// nothing is rejected.
func (s *DOMStore) Store(ctx context.Context, rawHTML string, meta *DOMMetadata) (*StorageRef, error) {
	const op = "DOMStore.Store"

	if strings.TrimSpace(rawHTML) == "" {
		return nil, errors.InvalidPayload(op, "empty HTML document", nil)
	}

	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, errors.InvalidPayload(op, "HTML could not be parsed", err)
	}

	nodes, title := flattenDocument(root)
	if len(nodes) == 0 {
		return nil, errors.InvalidPayload(op, "document parsed to zero elements", nil)
	}

	var serialized bytes.Buffer
	if err := html.Render(&serialized, root); err != nil {
		return nil, errors.InvalidPayload(op, "document could not be serialized", err)
	}

	id := s.base.newID()
	hash, err := s.base.writePayload(op, id, "html", serialized.Bytes())
	if err != nil {
		return nil, err
	}

	chunks := chunkNodes(nodes, s.chunkSize)
	for _, chunk := range chunks {
		path := s.base.itemPath(id, fmt.Sprintf("chunk_%d.json", chunk.Index))
		if err := s.base.writeJSON(op, path, chunk); err != nil {
			return nil, err
		}
	}

	url := ""
	if meta != nil {
		url = meta.URL
	}
	header := DOMHeader{
		Title:      title,
		URL:        url,
		TotalNodes: len(nodes),
		ChunkCount: len(chunks),
	}
	if err := s.base.writeJSON(op, s.base.itemPath(id, "meta.json"), header); err != nil {
		return nil, err
	}

	ref := s.base.createRef(id, "html", int64(serialized.Len()), hash, map[string]string{
		TagURL:        url,
		TagTitle:      title,
		TagTotalNodes: strconv.Itoa(len(nodes)),
		TagChunkCount: strconv.Itoa(len(chunks)),
	})
	if err := s.base.putRef(op, ref); err != nil {
		return nil, err
	}

	s.logger.Debug("stored DOM snapshot",
		slog.String("id", id),
		slog.Int("nodes", len(nodes)),
		slog.Int("chunks", len(chunks)))
	return ref, nil
}

// Retrieve returns the serialized document. The result is semantically
// equivalent to the stored input, re-serialized from the parsed tree;
// whitespace and attribute order are not preserved byte-for-byte.
func (s *DOMStore) Retrieve(ctx context.Context, ref *StorageRef) (string, error) {
	data, err := s.base.readPayload("DOMStore.Retrieve", ref, "html")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RetrieveChunk loads one chunk. An out-of-range index returns nil, nil.
func (s *DOMStore) RetrieveChunk(ctx context.Context, ref *StorageRef, index int) (*DOMChunk, error) {
	const op = "DOMStore.RetrieveChunk"

	var chunk DOMChunk
	path := s.base.itemPath(ref.Key(), fmt.Sprintf("chunk_%d.json", index))
	if err := s.base.readJSON(op, path, &chunk); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &chunk, nil
}

// QueryBySelector streams chunks in document order and runs the CSS
// selector against each chunk's local fragment, concatenating matches.
func (s *DOMStore) QueryBySelector(ctx context.Context, ref *StorageRef, selector string) ([]SelectorMatch, error) {
	const op = "DOMStore.QueryBySelector"

	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidSelector, op, "malformed CSS selector", err).
			WithDetail("selector", selector)
	}

	header, err := s.header(op, ref.Key())
	if err != nil {
		return nil, err
	}

	var matches []SelectorMatch
	for i := 0; i < header.ChunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, op, "query cancelled", err)
		}

		doc, err := s.chunkFragment(ctx, op, ref, i)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}

		doc.FindMatcher(matcher).Each(func(_ int, sel *goquery.Selection) {
			if len(sel.Nodes) == 0 {
				return
			}
			node := sel.Nodes[0]
			attrs := make(map[string]string, len(node.Attr))
			for _, a := range node.Attr {
				attrs[a.Key] = a.Val
			}
			matches = append(matches, SelectorMatch{
				Tag:        node.Data,
				Text:       strings.TrimSpace(sel.Text()),
				Attributes: attrs,
			})
		})
	}
	return matches, nil
}

// GetStats reports the stored document's header summary.
func (s *DOMStore) GetStats(ctx context.Context, ref *StorageRef) (*DOMStats, error) {
	header, err := s.header("DOMStore.GetStats", ref.Key())
	if err != nil {
		return nil, err
	}
	return &DOMStats{
		TotalNodes: header.TotalNodes,
		ChunkCount: header.ChunkCount,
		Title:      header.Title,
		URL:        header.URL,
	}, nil
}

// Query lists refs matching filter from the index alone.
func (s *DOMStore) Query(ctx context.Context, filter Filter) ([]*StorageRef, error) {
	return s.base.listRefs("DOMStore.Query", filter)
}

// Get resolves one id through the main index.
func (s *DOMStore) Get(ctx context.Context, id string) (*StorageRef, error) {
	return s.base.getRef("DOMStore.Get", id)
}

// Delete removes the payload, chunks, header, and main-index entry.
func (s *DOMStore) Delete(ctx context.Context, id string) (int64, error) {
	if err := s.base.removeRef("DOMStore.Delete", id); err != nil {
		return 0, err
	}
	freed := s.base.removeFiles(id)
	for _, key := range s.fragments.Keys() {
		if strings.HasPrefix(key, id+"#") {
			s.fragments.Remove(key)
		}
	}
	return freed, nil
}

func (s *DOMStore) header(op, id string) (*DOMHeader, error) {
	var header DOMHeader
	if err := s.base.readJSON(op, s.base.itemPath(id, "meta.json"), &header); err != nil {
		return nil, err
	}
	return &header, nil
}

// chunkFragment loads and parses one chunk's local fragment, cached.
func (s *DOMStore) chunkFragment(ctx context.Context, op string, ref *StorageRef, index int) (*goquery.Document, error) {
	key := fmt.Sprintf("%s#%d", ref.Key(), index)
	if doc, ok := s.fragments.Get(key); ok {
		return doc, nil
	}

	chunk, err := s.RetrieveChunk(ctx, ref, index)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragmentHTML(chunk)))
	if err != nil {
		return nil, errors.InvalidPayload(op, "chunk fragment could not be parsed", err)
	}
	s.fragments.Add(key, doc)
	return doc, nil
}

// flattenDocument walks the parsed tree in document order, producing
// one record per element node. Text is the element's immediate text.
func flattenDocument(root *html.Node) ([]ElementNode, string) {
	var nodes []ElementNode
	title := ""

	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type == html.ElementNode {
			attrs := make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				attrs[a.Key] = a.Val
			}
			text := immediateText(n)
			if n.Data == "title" && title == "" {
				title = text
			}
			nodes = append(nodes, ElementNode{
				Index:      len(nodes),
				Depth:      depth,
				Tag:        n.Data,
				Attributes: attrs,
				Text:       text,
			})
			depth++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth)
		}
	}
	walk(root, 0)
	return nodes, title
}

func immediateText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

// chunkNodes groups consecutive records into chunks of at most size.
func chunkNodes(nodes []ElementNode, size int) []*DOMChunk {
	var chunks []*DOMChunk
	for start := 0; start < len(nodes); start += size {
		end := start + size
		if end > len(nodes) {
			end = len(nodes)
		}
		slice := nodes[start:end]
		chunks = append(chunks, &DOMChunk{
			Index:     len(chunks),
			NodeCount: len(slice),
			Nodes:     slice,
		})
	}
	return chunks
}

// voidElements never take a closing tag when fragments are rebuilt.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// fragmentHTML rebuilds chunk records into parseable HTML. Records whose
// parents fall in earlier chunks become roots of this fragment.
func fragmentHTML(chunk *DOMChunk) string {
	var b strings.Builder
	type open struct {
		depth int
		tag   string
	}
	var stack []open

	closeTo := func(depth int) {
		for len(stack) > 0 && stack[len(stack)-1].depth >= depth {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			b.WriteString("</" + top.tag + ">")
		}
	}

	for _, n := range chunk.Nodes {
		closeTo(n.Depth)

		b.WriteString("<" + n.Tag)
		keys := make([]string, 0, len(n.Attributes))
		for k := range n.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" " + k + `="` + html.EscapeString(n.Attributes[k]) + `"`)
		}
		b.WriteString(">")

		if n.Text != "" {
			b.WriteString(html.EscapeString(n.Text))
		}
		if voidElements[n.Tag] {
			continue
		}
		stack = append(stack, open{depth: n.Depth, tag: n.Tag})
	}
	closeTo(0)
	return b.String()
}
