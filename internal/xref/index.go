// Package xref indexes the call sites of a binary into an xref store and
// builds call graphs from them.
package xref

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"

	"github.com/apex/log"
	"github.com/objcflow/objcflow/internal/db"
	"github.com/objcflow/objcflow/internal/model"
	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

// Config controls an Indexer.
type Config struct {
	// Workers bounds the number of functions analyzed at once (0 means GOMAXPROCS).
	Workers int
	// Progress draws a progress bar on Output while indexing.
	Progress bool
	Output   io.Writer
}

// Indexer walks every function of a binary and stores its call sites.
type Indexer struct {
	ba   *analyzer.BinaryAnalyzer
	db   db.Database
	conf Config
}

func NewIndexer(ba *analyzer.BinaryAnalyzer, d db.Database, conf Config) *Indexer {
	if conf.Workers <= 0 {
		conf.Workers = runtime.GOMAXPROCS(0)
	}
	return &Indexer{ba: ba, db: d, conf: conf}
}

// Key identifies a binary in the store.
func Key(ba *analyzer.BinaryAnalyzer) string {
	bin := ba.Binary()
	if uuid := bin.Header().UUID; uuid != "" {
		return uuid
	}
	return bin.Path()
}

// Kind maps a call target onto its stored kind.
func Kind(ct *analyzer.CallTarget) model.CallKind {
	_, hasDest := ct.Destination()
	switch {
	case ct.IsMsgSendCall:
		return model.CallMsgSend
	case ct.IsExternalObjcCall && !hasDest:
		return model.CallDispatch
	case ct.IsExternalObjcCall:
		return model.CallObjc
	case ct.IsExternalCCall:
		return model.CallC
	}
	return model.CallLocal
}

// CallSites classifies every branch of the function at start.
func CallSites(ba *analyzer.BinaryAnalyzer, start uint64) ([]*model.CallSite, error) {
	fa, err := ba.FunctionAt(start)
	if err != nil {
		return nil, err
	}
	key := Key(ba)
	name := fa.SymbolName()

	var sites []*model.CallSite
	for _, ct := range fa.CallTargets() {
		site := &model.CallSite{
			BinaryUUID: key,
			Address:    ct.Instruction.Address,
			Caller:     fa.Start(),
			CallerName: name,
			Mnemonic:   ct.Instruction.Mnemonic,
			Kind:       Kind(ct),
			Symbol:     ct.Symbol,
		}
		site.Destination, site.HasDestination = ct.Destination()
		if ct.Selref != nil {
			site.Selref = ct.Selref.Address
			site.Selector = ct.Selref.Name
		}
		sites = append(sites, site)
	}
	return sites, nil
}

func (ix *Indexer) progress(total int) (*mpb.Progress, *mpb.Bar) {
	if !ix.conf.Progress {
		return nil, nil
	}
	opts := []mpb.ContainerOption{mpb.WithWidth(80)}
	if ix.conf.Output != nil {
		opts = append(opts, mpb.WithOutput(ix.conf.Output))
	}
	p := mpb.New(opts...)
	bar := p.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
		mpb.PrependDecorators(
			decor.Name("     ", decor.WC{W: 4, C: decor.DindentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ "),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("%d/%d"),
			decor.Name(" ] "),
		),
	)
	return p, bar
}

// Index replaces the stored call sites of the binary with a fresh scan.
func (ix *Indexer) Index(ctx context.Context) (*model.Binary, error) {
	key := Key(ix.ba)
	funcs := ix.ba.Functions()

	log.WithFields(log.Fields{
		"binary":    key,
		"functions": len(funcs),
		"workers":   ix.conf.Workers,
	}).Info("Indexing call sites")

	p, bar := ix.progress(len(funcs))

	var (
		mu    sync.Mutex
		sites []*model.CallSite
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(ix.conf.Workers)
	for _, start := range funcs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			found, err := CallSites(ix.ba, start)
			if bar != nil {
				bar.Increment()
			}
			if err != nil {
				log.WithError(err).Debugf("skipping function %#x", start)
				return nil
			}
			mu.Lock()
			sites = append(sites, found...)
			mu.Unlock()
			return nil
		})
	}
	err := eg.Wait()
	if p != nil {
		if err != nil {
			bar.Abort(false)
		}
		p.Wait()
	}
	if err != nil {
		return nil, err
	}

	slices.SortFunc(sites, func(a, b *model.CallSite) int {
		return cmp.Compare(a.Address, b.Address)
	})

	if err := ix.db.DeleteBinary(key); err != nil {
		return nil, fmt.Errorf("failed to clear previous index: %v", err)
	}
	b := &model.Binary{
		UUID:      key,
		Path:      ix.ba.Binary().Path(),
		Arch:      ix.ba.Binary().Header().CPU,
		Functions: len(funcs),
		CallSites: len(sites),
	}
	if err := ix.db.SaveBinary(b); err != nil {
		return nil, fmt.Errorf("failed to save binary: %v", err)
	}
	if err := ix.db.CreateCallSites(sites); err != nil {
		return nil, fmt.Errorf("failed to save call sites: %v", err)
	}
	return b, nil
}

// Ensure returns the stored index of the binary, building it when missing.
func (ix *Indexer) Ensure(ctx context.Context) (*model.Binary, error) {
	if b, err := ix.db.GetBinary(Key(ix.ba)); err == nil {
		return b, nil
	}
	return ix.Index(ctx)
}
