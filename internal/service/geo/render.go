// internal/service/geo/render.go

package geo

import "strconv"

// MarkerStyle selects the bitmap used for a single event marker
type MarkerStyle string

const (
	MarkerNormal      MarkerStyle = "normal"
	MarkerHighlighted MarkerStyle = "highlighted"
)

// ClusterStyle selects the bitmap used for a cluster marker
type ClusterStyle string

const (
	ClusterNormal     ClusterStyle = "cluster"
	ClusterInterested ClusterStyle = "cluster_interested"
)

// clusterBuckets are the label thresholds; counts at or above the first
// bucket are rounded down to a bucket and shown with a "+"
var clusterBuckets = []int{10, 20, 50, 100, 200, 500, 1000}

// MarkerPayload is what the renderer needs to draw a single event
type MarkerPayload struct {
	Style           MarkerStyle `json:"style"`
	InterestedBadge bool        `json:"interested_badge"`
	ZIndex          int         `json:"z_index"`
}

// ClusterPayload is what the renderer needs to draw a cluster
type ClusterPayload struct {
	Style           ClusterStyle `json:"style"`
	Label           string       `json:"label"`
	InterestedLabel string       `json:"interested_label,omitempty"`
}

// MarkerPayloadFor derives the marker payload from the event's flags
func MarkerPayloadFor(isHighlighted, isInterested bool) MarkerPayload {
	payload := MarkerPayload{Style: MarkerNormal, InterestedBadge: isInterested}
	if isHighlighted {
		payload.Style = MarkerHighlighted
		payload.ZIndex = 1
	}
	return payload
}

// ClusterPayloadFor derives the cluster payload from its counts
func ClusterPayloadFor(total, interested int) ClusterPayload {
	payload := ClusterPayload{Style: ClusterNormal, Label: bucketLabel(total)}
	if interested > 0 {
		payload.Style = ClusterInterested
		payload.InterestedLabel = bucketLabel(interested)
	}
	return payload
}

func bucketLabel(n int) string {
	if n < clusterBuckets[0] {
		return strconv.Itoa(n)
	}
	bucket := clusterBuckets[0]
	for _, b := range clusterBuckets {
		if n < b {
			break
		}
		bucket = b
	}
	return strconv.Itoa(bucket) + "+"
}
