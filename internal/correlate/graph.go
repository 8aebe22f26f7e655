package correlate

import (
	"sort"
	"strings"

	"github.com/caseweave/caseweave/internal/domain"
)

// builtinAliases maps common first-name diminutives to their formal
// forms. Engine options extend the table per case.
var builtinAliases = map[string]string{
	"bob": "robert", "rob": "robert", "bobby": "robert",
	"bill": "william", "will": "william", "billy": "william",
	"jim": "james", "jimmy": "james",
	"mike": "michael", "tom": "thomas", "tommy": "thomas",
	"dick": "richard", "rick": "richard", "rich": "richard",
	"liz": "elizabeth", "beth": "elizabeth", "betty": "elizabeth",
	"kate": "katherine", "katie": "katherine", "kathy": "katherine",
	"dan": "daniel", "danny": "daniel",
	"dave": "david", "steve": "steven",
	"chris": "christopher", "sam": "samuel",
	"alex": "alexander", "tony": "anthony",
	"ed": "edward", "eddie": "edward", "ted": "edward",
	"andy": "andrew", "drew": "andrew",
	"joe": "joseph", "joey": "joseph",
	"jack": "john", "johnny": "john",
	"hank": "henry", "harry": "henry",
	"peggy": "margaret", "meg": "margaret", "maggie": "margaret",
	"sue": "susan", "susie": "susan",
	"jen": "jennifer", "jenny": "jennifer",
	"nick": "nicholas", "matt": "matthew",
	"greg": "gregory", "fred": "frederick",
	"ben": "benjamin", "pete": "peter",
	"ron": "ronald", "ray": "raymond",
	"larry": "lawrence", "jerry": "gerald",
	"tim": "timothy", "ken": "kenneth",
	"don": "donald", "frank": "francis",
}

// orgSuffixes expand abbreviated corporate suffixes so "Acme Corp." and
// "Acme Corporation" merge.
var orgSuffixes = map[string]string{
	"corp": "corporation", "inc": "incorporated", "co": "company",
	"ltd": "limited", "assn": "association", "bros": "brothers",
	"intl": "international", "mfg": "manufacturing",
}

// organizationMarkers identify organization labels by their last token.
var organizationMarkers = map[string]bool{
	"corporation": true, "incorporated": true, "company": true,
	"limited": true, "llc": true, "llp": true, "lp": true, "plc": true,
	"association": true, "brothers": true, "international": true,
	"manufacturing": true, "holdings": true, "group": true,
	"partners": true, "bank": true, "trust": true, "fund": true,
	"industries": true, "enterprises": true, "services": true,
	"firm": true, "agency": true, "department": true, "committee": true,
	"university": true, "hospital": true, "insurance": true,
}

// locationMarkers identify location labels by their last token.
var locationMarkers = map[string]bool{
	"street": true, "avenue": true, "boulevard": true, "road": true,
	"county": true, "city": true, "state": true, "district": true,
	"courthouse": true, "plaza": true, "building": true, "office": true,
	"warehouse": true, "facility": true, "headquarters": true,
}

// resolveAlias canonicalizes an entity label for deduplication: lowercase
// and collapse whitespace, strip punctuation off tokens, expand corporate
// suffixes, map first-name diminutives, then apply the configured table.
func (e *Engine) resolveAlias(label string) string {
	canonical := domain.CanonicalLabel(label)
	if mapped, ok := e.aliases[canonical]; ok {
		return mapped
	}

	tokens := strings.Fields(canonical)
	for i, tok := range tokens {
		tok = strings.Trim(tok, ".,;:()\"'")
		if expanded, ok := orgSuffixes[tok]; ok && i == len(tokens)-1 {
			tok = expanded
		}
		tokens[i] = tok
	}
	// Diminutive first names only make sense on multi-token person-like
	// labels ("Bob Smith"), never on bare surnames.
	if len(tokens) >= 2 {
		if formal, ok := builtinAliases[tokens[0]]; ok {
			tokens[0] = formal
		}
	}

	resolved := strings.Join(tokens, " ")
	if mapped, ok := e.aliases[resolved]; ok {
		return mapped
	}
	return resolved
}

// classifyEntity guesses the node type of an entity mention. Organizations
// and locations are recognized by their trailing token, document mentions
// by exhibit/agreement vocabulary; everything else defaults to person,
// the most common entity in testimony.
func classifyEntity(label string) domain.NodeType {
	tokens := strings.Fields(strings.ToLower(strings.Trim(label, ".,;:")))
	if len(tokens) == 0 {
		return domain.NodePerson
	}
	last := strings.Trim(tokens[len(tokens)-1], ".,;:")
	if organizationMarkers[last] || orgSuffixes[last] != "" {
		return domain.NodeOrganization
	}
	if locationMarkers[last] {
		return domain.NodeLocation
	}
	first := tokens[0]
	switch first {
	case "exhibit", "invoice", "contract", "agreement", "memo",
		"memorandum", "email", "letter", "report", "deposition",
		"affidavit", "declaration", "transcript":
		return domain.NodeDocument
	}
	return domain.NodePerson
}

// nodeKey identifies a node for deduplication.
type nodeKey struct {
	nodeType domain.NodeType
	label    string
}

// graphBuilder accumulates deduplicated nodes and edges.
type graphBuilder struct {
	engine *Engine
	caseID string
	nodes  map[nodeKey]*domain.GraphNode
	edges  []*domain.GraphRelationship
}

// node returns the deduplicated node for a mention, creating it on first
// sight. The node ID is keyed by the alias-resolved label; the display
// label keeps the longest mention seen.
func (b *graphBuilder) node(nodeType domain.NodeType, label string) *domain.GraphNode {
	resolved := b.engine.resolveAlias(label)
	if resolved == "" {
		return nil
	}
	key := nodeKey{nodeType: nodeType, label: resolved}
	if existing, ok := b.nodes[key]; ok {
		if len(strings.TrimSpace(label)) > len(existing.Label) {
			existing.Label = strings.TrimSpace(label)
		}
		count, _ := existing.Properties["mentions"].(int)
		existing.Properties["mentions"] = count + 1
		return existing
	}

	node, err := domain.NewGraphNode(b.caseID, nodeType, resolved)
	if err != nil {
		return nil
	}
	node.Label = strings.TrimSpace(label)
	node.Properties["mentions"] = 1
	b.nodes[key] = node
	return node
}

func (b *graphBuilder) edge(source, target *domain.GraphNode, relType domain.RelationshipType, props map[string]any) {
	if source == nil || target == nil || source.ID == target.ID {
		return
	}
	rel, err := domain.NewGraphRelationship(b.caseID, source.ID, target.ID, relType)
	if err != nil {
		return
	}
	for k, v := range props {
		rel.Properties[k] = v
	}
	b.edges = append(b.edges, rel)
}

// buildGraph extracts nodes and relationships from the findings:
// entity mentions, evidence documents (mentioned_in), event participation
// (participated_in), co-mention (related_to) and chronology (precedes).
func (e *Engine) buildGraph(in *Input, findings []*domain.Finding, timeline []*domain.TimelineEvent) (map[nodeKey]*domain.GraphNode, []*domain.GraphRelationship, error) {
	b := &graphBuilder{
		engine: e,
		caseID: in.CaseID,
		nodes:  make(map[nodeKey]*domain.GraphNode),
	}

	for _, f := range findings {
		entityNodes := make([]*domain.GraphNode, 0, len(f.Entities))
		for _, mention := range f.Entities {
			if node := b.node(classifyEntity(mention), mention); node != nil {
				entityNodes = append(entityNodes, node)
			}
		}

		// Entities are mentioned in the evidence the finding cites.
		for _, c := range f.Citations {
			label := in.EvidenceLabels[c.EvidenceID]
			if label == "" {
				label = c.EvidenceID
			}
			doc := b.node(domain.NodeDocument, label)
			for _, entity := range entityNodes {
				b.edge(entity, doc, domain.RelMentionedIn, nil)
			}
		}

		// Co-mentioned entities are related.
		for i := 0; i < len(entityNodes); i++ {
			for j := i + 1; j < len(entityNodes); j++ {
				b.edge(entityNodes[i], entityNodes[j], domain.RelRelatedTo,
					map[string]any{"finding_id": f.ID})
			}
		}
	}

	// Timeline events become event nodes; participants join them, and
	// chronology links consecutive events.
	var prev *domain.GraphNode
	for _, ev := range timeline {
		eventNode := b.node(domain.NodeEvent, describeEvent(ev.Description))
		if eventNode == nil {
			continue
		}
		eventNode.Properties["timestamp"] = ev.Timestamp.Format("2006-01-02T15:04:05Z07:00")
		eventNode.Properties["event_type"] = ev.EventType
		for _, participant := range ev.Participants {
			b.edge(b.node(classifyEntity(participant), participant), eventNode, domain.RelParticipatedIn, nil)
		}
		if prev != nil {
			b.edge(prev, eventNode, domain.RelPrecedes, nil)
		}
		prev = eventNode
	}

	return b.nodes, b.edges, nil
}

// contradictionEdges adds a contradicts edge per detected pair, between
// the findings' lead entities.
func (e *Engine) contradictionEdges(caseID string, findings []*domain.Finding, contradictions []*domain.Contradiction, nodes map[nodeKey]*domain.GraphNode) []*domain.GraphRelationship {
	byID := make(map[string]*domain.Finding, len(findings))
	for _, f := range findings {
		byID[f.ID] = f
	}

	lookup := func(mention string) *domain.GraphNode {
		resolved := e.resolveAlias(mention)
		return nodes[nodeKey{nodeType: classifyEntity(mention), label: resolved}]
	}

	var edges []*domain.GraphRelationship
	for _, c := range contradictions {
		a, b := byID[c.FindingA], byID[c.FindingB]
		if a == nil || b == nil || len(a.Entities) == 0 || len(b.Entities) == 0 {
			continue
		}
		source, target := lookup(a.Entities[0]), lookup(b.Entities[0])
		if source == nil || target == nil || source.ID == target.ID {
			// Same lead entity on both sides: fall back to the first
			// differing pair, if any.
			source, target = firstDifferingPair(e, nodes, a.Entities, b.Entities)
		}
		if source == nil || target == nil {
			continue
		}
		rel, err := domain.NewGraphRelationship(caseID, source.ID, target.ID, domain.RelContradicts)
		if err != nil {
			continue
		}
		rel.Properties["contradiction_id"] = c.ID
		rel.Properties["predicate"] = c.Predicate
		edges = append(edges, rel)
	}
	return edges
}

func firstDifferingPair(e *Engine, nodes map[nodeKey]*domain.GraphNode, as, bs []string) (*domain.GraphNode, *domain.GraphNode) {
	for _, am := range as {
		a := nodes[nodeKey{nodeType: classifyEntity(am), label: e.resolveAlias(am)}]
		if a == nil {
			continue
		}
		for _, bm := range bs {
			b := nodes[nodeKey{nodeType: classifyEntity(bm), label: e.resolveAlias(bm)}]
			if b != nil && b.ID != a.ID {
				return a, b
			}
		}
	}
	return nil, nil
}

// nodeList flattens the node map in a stable order.
func nodeList(nodes map[nodeKey]*domain.GraphNode) []*domain.GraphNode {
	out := make([]*domain.GraphNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// dedupeRelationships drops repeated edges; IDs are deterministic over
// (case, source, type, target) so a map suffices.
func dedupeRelationships(rels []*domain.GraphRelationship) []*domain.GraphRelationship {
	seen := make(map[string]bool, len(rels))
	out := make([]*domain.GraphRelationship, 0, len(rels))
	for _, rel := range rels {
		if seen[rel.ID] {
			continue
		}
		seen[rel.ID] = true
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// describeEvent trims an event description for a node label.
func describeEvent(description string) string {
	const maxLabel = 80
	description = strings.TrimSpace(description)
	if len(description) <= maxLabel {
		return description
	}
	if i := strings.LastIndex(description[:maxLabel], " "); i > maxLabel/2 {
		return description[:i] + "..."
	}
	return description[:maxLabel] + "..."
}
