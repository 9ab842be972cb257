package vision

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hagyro/paper-md/models"
)

// Warning records a single figure or table whose enrichment failed.
// Warnings never fail the job.
type Warning struct {
	NodeIndex int
	Image     models.ImageRef
	Err       error
}

// Enricher populates Figure descriptions (and optionally reconstructs
// Table nodes) through a Describer. A nil describer turns Enrich into a
// pass-through, which is the valid terminal configuration for the "none"
// provider.
type Enricher struct {
	logger      *logrus.Logger
	describer   Describer
	fanout      int
	tableVision bool
}

// NewEnricher creates an enricher with the given per-job fan-out bound
func NewEnricher(logger *logrus.Logger, describer Describer, fanout int, tableVision bool) *Enricher {
	if fanout < 1 {
		fanout = 1
	}
	return &Enricher{logger: logger, describer: describer, fanout: fanout, tableVision: tableVision}
}

// Enrich mutates nodes in place, setting each Figure's description where
// the backend succeeds. Figures are dispatched concurrently up to the
// fan-out bound; every result is written back at the node's original
// index, so output order never depends on completion order. Per-node
// failures are returned as warnings.
func (e *Enricher) Enrich(ctx context.Context, nodes []models.StructureNode, pages []models.RawPage, doc DocumentContext) []Warning {
	if e.describer == nil {
		return nil
	}

	targets := e.collectTargets(nodes, pages)
	if len(targets) == 0 {
		return nil
	}

	prompt := FigurePrompt(doc)
	failures := make([]*Warning, len(targets))

	sem := make(chan struct{}, e.fanout)
	var wg sync.WaitGroup
	for ti, target := range targets {
		wg.Add(1)
		go func(slot int, t enrichTarget) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				failures[slot] = &Warning{NodeIndex: t.nodeIndex, Image: nodes[t.nodeIndex].Image, Err: err}
				return
			}
			if err := e.describeOne(ctx, nodes, t, prompt, doc); err != nil {
				failures[slot] = &Warning{NodeIndex: t.nodeIndex, Image: nodes[t.nodeIndex].Image, Err: err}
			}
		}(ti, target)
	}
	wg.Wait()

	var warnings []Warning
	for _, f := range failures {
		if f == nil {
			continue
		}
		e.logger.WithFields(logrus.Fields{
			"node":  f.NodeIndex,
			"page":  f.Image.Page,
			"image": f.Image.Index,
		}).WithError(f.Err).Warn("Figure enrichment failed")
		warnings = append(warnings, *f)
	}
	return warnings
}

// enrichTarget addresses one node to enrich. Each goroutine owns exactly
// one node index, so concurrent write-back needs no locking.
type enrichTarget struct {
	nodeIndex int
	image     []byte // nil for table targets
}

func (e *Enricher) collectTargets(nodes []models.StructureNode, pages []models.RawPage) []enrichTarget {
	var targets []enrichTarget
	for i := range nodes {
		switch nodes[i].Kind {
		case models.NodeFigure:
			block := models.ResolveImage(pages, nodes[i].Image)
			if block == nil {
				continue
			}
			targets = append(targets, enrichTarget{nodeIndex: i, image: block.Data})
		case models.NodeTable:
			if e.tableVision && len(nodes[i].Rows) > 0 {
				targets = append(targets, enrichTarget{nodeIndex: i})
			}
		}
	}
	return targets
}

func (e *Enricher) describeOne(ctx context.Context, nodes []models.StructureNode, t enrichTarget, figurePrompt string, doc DocumentContext) error {
	node := &nodes[t.nodeIndex]

	if node.Kind == models.NodeTable {
		content, err := e.describer.DescribeText(ctx, TablePrompt(doc, node.Caption, node.Rows))
		if err != nil {
			return err
		}
		node.Description = content
		return nil
	}

	content, err := e.describer.DescribeImage(ctx, t.image, figurePrompt)
	if err != nil {
		return err
	}
	_, description := ParseResponse(content)
	node.Description = description
	return nil
}
