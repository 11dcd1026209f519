package domain

type StreamEventType string

const (
	EventStart   StreamEventType = "start"
	EventSources StreamEventType = "sources"
	EventContent StreamEventType = "content"
	EventEnd     StreamEventType = "end"
)

type StreamCounts struct {
	Retrieved  int `json:"retrieved"`
	Reranked   int `json:"reranked"`
	Context    int `json:"context"`
	HistoryLen int `json:"history"`
}

type StartPayload struct {
	QueryType QueryType    `json:"query_type"`
	Scope     Scope        `json:"scope"`
	Counts    StreamCounts `json:"counts"`
}

type SourcesPayload struct {
	Citations []Citation `json:"citations"`
}

type ContentPayload struct {
	Delta string `json:"delta"`
}

type EndPayload struct {
	ElapsedMS int64     `json:"elapsed_ms"`
	QueryType QueryType `json:"query_type"`
}

// StreamEvent is one element of the answer protocol. Exactly one payload
// field matching Type is set.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Start   *StartPayload   `json:"start,omitempty"`
	Sources *SourcesPayload `json:"sources,omitempty"`
	Content *ContentPayload `json:"content,omitempty"`
	End     *EndPayload     `json:"end,omitempty"`
}

func StartEvent(queryType QueryType, scope Scope, counts StreamCounts) StreamEvent {
	return StreamEvent{Type: EventStart, Start: &StartPayload{QueryType: queryType, Scope: scope, Counts: counts}}
}

func SourcesEvent(citations []Citation) StreamEvent {
	if citations == nil {
		citations = []Citation{}
	}
	return StreamEvent{Type: EventSources, Sources: &SourcesPayload{Citations: citations}}
}

func ContentEvent(delta string) StreamEvent {
	return StreamEvent{Type: EventContent, Content: &ContentPayload{Delta: delta}}
}

func EndEvent(elapsedMS int64, queryType QueryType) StreamEvent {
	return StreamEvent{Type: EventEnd, End: &EndPayload{ElapsedMS: elapsedMS, QueryType: queryType}}
}

// Payload returns the populated payload for serialization.
func (e StreamEvent) Payload() any {
	switch e.Type {
	case EventStart:
		return e.Start
	case EventSources:
		return e.Sources
	case EventContent:
		return e.Content
	case EventEnd:
		return e.End
	default:
		return nil
	}
}
