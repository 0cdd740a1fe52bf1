package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"commerce-sync/internal/broker"
	"commerce-sync/internal/chain"
	"commerce-sync/internal/models"
	"commerce-sync/internal/redisclient"
	"commerce-sync/internal/util"
)

// CatalogReconciler merges the chain-canonical product registry with the
// local product collection. Pull fills local gaps from chain without ever
// overwriting a populated local field; push registers unregistered local
// products and rewrites registered ones only when some field actually
// differs, since every chain update is a full overwrite of the slot.
type CatalogReconciler struct {
	store     Store
	ledger    Ledger
	sender    TxSender
	publisher *broker.EventPublisher
	redis     *redisclient.Client
	logger    *zap.Logger
}

// NewCatalogReconciler creates a new catalog reconciler
func NewCatalogReconciler(
	st Store,
	ledger Ledger,
	sender TxSender,
	publisher *broker.EventPublisher,
	redis *redisclient.Client,
) *CatalogReconciler {
	return &CatalogReconciler{
		store:     st,
		ledger:    ledger,
		sender:    sender,
		publisher: publisher,
		redis:     redis,
		logger:    util.GetLogger(),
	}
}

// Reconcile runs one full pass: pull first so products discovered on chain
// exist locally before push evaluates them, then push. The collection is
// persisted after each phase so a crash never loses a whole pass.
func (cr *CatalogReconciler) Reconcile(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "CatalogReconciler.Reconcile")
	defer span.End()

	util.ReconcilePassesTotal.Inc()

	if err := cr.PullChainToLocal(ctx); err != nil {
		return fmt.Errorf("pull phase failed: %w", err)
	}
	if err := cr.PushLocalToChain(ctx); err != nil {
		return fmt.Errorf("push phase failed: %w", err)
	}
	return nil
}

// PullChainToLocal walks the full on-chain product table. Chain entries
// without a local match become new local records seeded from chain; entries
// with a match only fill fields the local record left empty. A failure on
// one product is logged and skipped, never aborting the pass.
func (cr *CatalogReconciler) PullChainToLocal(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "CatalogReconciler.PullChainToLocal")
	defer span.End()

	count, err := cr.ledger.ProductCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to read product count: %w", err)
	}

	products, err := cr.store.LoadProducts(ctx)
	if err != nil {
		return err
	}

	changed := false
	for index := int64(1); index <= count; index++ {
		record, err := cr.ledger.ProductInfo(ctx, index)
		if err != nil {
			util.ReconcileProductFailures.WithLabelValues("pull").Inc()
			cr.logger.Warn("Skipping unreadable chain product",
				zap.Int64("index", index),
				zap.Error(err))
			continue
		}

		idx := findProduct(products, record.ID)
		if idx < 0 {
			products = append(products, productFromChain(record, index))
			changed = true
			util.ProductsPulledTotal.Inc()
			cr.logger.Info("Discovered product on chain",
				zap.String("product_id", record.ID),
				zap.Int64("index", index))
			continue
		}
		if fillFromChain(&products[idx], record, index) {
			changed = true
			util.ProductsPulledTotal.Inc()
		}
	}

	if changed {
		if err := cr.store.SaveProducts(ctx, products); err != nil {
			return err
		}
		cr.invalidateGallery(ctx)
	}
	return nil
}

// PushLocalToChain registers every named local product that has no on-chain
// index and rewrites every registered product whose local fields drifted
// from the chain copy. The field-by-field comparison exists specifically to
// avoid redundant chain writes when nothing changed.
func (cr *CatalogReconciler) PushLocalToChain(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "CatalogReconciler.PushLocalToChain")
	defer span.End()

	products, err := cr.store.LoadProducts(ctx)
	if err != nil {
		return err
	}

	changed := false
	for i := range products {
		product := &products[i]
		if product.Catalog.Name == "" {
			continue
		}

		if product.OnChainID == 0 {
			index, err := cr.register(ctx, product)
			if err != nil {
				util.ReconcileProductFailures.WithLabelValues("push").Inc()
				cr.logger.Warn("Failed to register product on chain",
					zap.String("product_id", product.ProductID),
					zap.Error(err))
				continue
			}
			product.OnChainID = index
			product.ProductInfo = infoFromCatalog(product)
			changed = true
			continue
		}

		if err := cr.pushIfChanged(ctx, product); err != nil {
			util.ReconcileProductFailures.WithLabelValues("push").Inc()
			cr.logger.Warn("Failed to push product update to chain",
				zap.String("product_id", product.ProductID),
				zap.Int64("index", product.OnChainID),
				zap.Error(err))
		}
	}

	if changed {
		if err := cr.store.SaveProducts(ctx, products); err != nil {
			return err
		}
		cr.invalidateGallery(ctx)
	}
	return nil
}

// PushProduct reconciles a single product to chain, the per-product
// composition of the push phase. Used right after an admin creates or edits
// a product so the registry does not wait for the next periodic pass.
func (cr *CatalogReconciler) PushProduct(ctx context.Context, productID string) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogReconciler.PushProduct")
	defer span.End()

	product, err := cr.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Catalog.Name == "" {
		return product, nil
	}

	if product.OnChainID == 0 {
		index, err := cr.register(ctx, product)
		if err != nil {
			return nil, err
		}
		updated, err := cr.store.UpdateProduct(ctx, productID, func(p *models.Product) error {
			p.OnChainID = index
			p.ProductInfo = infoFromCatalog(p)
			return nil
		})
		if err != nil {
			return nil, err
		}
		cr.invalidateGallery(ctx)
		return updated, nil
	}

	if err := cr.pushIfChanged(ctx, product); err != nil {
		return nil, err
	}
	cr.invalidateGallery(ctx)
	return product, nil
}

// register obtains a fresh registry index and writes the full product tuple
// to it. The two submissions are deliberately not retried here: if the
// second fails, the next pass re-reads chain state instead of blindly
// reissuing a mutating transaction.
func (cr *CatalogReconciler) register(ctx context.Context, product *models.Product) (int64, error) {
	call, err := cr.ledger.RegisterProductCall()
	if err != nil {
		return 0, err
	}
	if _, err := cr.sender.SendWithMargin(ctx, call); err != nil {
		return 0, err
	}

	index, err := cr.ledger.ProductCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("registered but failed to read fresh index: %w", err)
	}

	write, err := cr.ledger.SetProductInfoCall(index, chainRecord(product))
	if err != nil {
		return 0, err
	}
	if _, err := cr.sender.SendWithMargin(ctx, write); err != nil {
		return 0, err
	}

	util.ProductsPushedTotal.WithLabelValues("register").Inc()
	cr.publish(ctx, models.EventTypeProductRegistered, product.ProductID, index)
	cr.logger.Info("Registered product on chain",
		zap.String("product_id", product.ProductID),
		zap.Int64("index", index))
	return index, nil
}

// pushIfChanged rewrites the product's registry slot only when a field
// differs between the local record and the chain copy.
func (cr *CatalogReconciler) pushIfChanged(ctx context.Context, product *models.Product) error {
	onChain, err := cr.ledger.ProductInfo(ctx, product.OnChainID)
	if err != nil && !errors.Is(err, chain.ErrNotFound) {
		return err
	}
	local := chainRecord(product)
	if onChain != nil && recordsEqual(local, onChain) {
		return nil
	}

	write, err := cr.ledger.SetProductInfoCall(product.OnChainID, local)
	if err != nil {
		return err
	}
	if _, err := cr.sender.SendWithMargin(ctx, write); err != nil {
		return err
	}

	util.ProductsPushedTotal.WithLabelValues("update").Inc()
	cr.publish(ctx, models.EventTypeProductUpdated, product.ProductID, product.OnChainID)
	cr.logger.Info("Pushed product update to chain",
		zap.String("product_id", product.ProductID),
		zap.Int64("index", product.OnChainID))
	return nil
}

func (cr *CatalogReconciler) publish(ctx context.Context, eventType, productID string, index int64) {
	if cr.publisher == nil {
		return
	}
	base := models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
	var err error
	switch eventType {
	case models.EventTypeProductRegistered:
		err = cr.publisher.PublishProductRegistered(ctx, &models.ProductRegisteredEvent{
			BaseEvent: base, ProductID: productID, OnChainID: index,
		})
	case models.EventTypeProductUpdated:
		err = cr.publisher.PublishProductUpdated(ctx, &models.ProductUpdatedEvent{
			BaseEvent: base, ProductID: productID, OnChainID: index,
		})
	}
	if err != nil {
		cr.logger.Error("Failed to publish catalog event",
			zap.String("event_type", eventType),
			zap.String("product_id", productID),
			zap.Error(err))
	}
}

func (cr *CatalogReconciler) invalidateGallery(ctx context.Context) {
	if cr.redis == nil {
		return
	}
	if err := cr.redis.InvalidateGallery(ctx); err != nil {
		cr.logger.Warn("Failed to invalidate gallery cache", zap.Error(err))
	}
}

func findProduct(products []models.Product, productID string) int {
	for i := range products {
		if products[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// productFromChain seeds a brand-new local record from the chain tuple.
func productFromChain(record *chain.ProductRecord, index int64) models.Product {
	return models.Product{
		ProductID: record.ID,
		Catalog: models.Catalog{
			Name:        record.Name,
			Description: record.Description,
			Price:       models.PriceFromMinorUnits(record.Price),
			Stock:       int(record.Stock.Int64()),
			Image:       record.Image,
			Category:    record.Category,
			ReleaseDate: record.ReleaseDate,
		},
		ProductInfo: models.ProductInfo{
			ID:          record.ID,
			Name:        record.Name,
			Category:    record.Category,
			ReleaseDate: record.ReleaseDate,
		},
		OnChainID: index,
	}
}

// fillFromChain fills only empty local fields from the chain record. A
// populated local field is never overwritten on read.
func fillFromChain(product *models.Product, record *chain.ProductRecord, index int64) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&product.Catalog.Name, record.Name)
	fill(&product.Catalog.Description, record.Description)
	fill(&product.Catalog.Category, record.Category)
	fill(&product.Catalog.ReleaseDate, record.ReleaseDate)
	fill(&product.Catalog.Image, record.Image)
	if product.Catalog.Price == 0 && record.Price.Sign() > 0 {
		product.Catalog.Price = models.PriceFromMinorUnits(record.Price)
		changed = true
	}
	if product.Catalog.Stock == 0 && record.Stock.Sign() > 0 {
		product.Catalog.Stock = int(record.Stock.Int64())
		changed = true
	}
	fill(&product.ProductInfo.ID, record.ID)
	fill(&product.ProductInfo.Name, record.Name)
	fill(&product.ProductInfo.Category, record.Category)
	fill(&product.ProductInfo.ReleaseDate, record.ReleaseDate)
	if product.OnChainID == 0 {
		product.OnChainID = index
		changed = true
	}
	return changed
}

// chainRecord converts the local record to the full chain tuple. Price goes
// to integer minor units on the way out.
func chainRecord(product *models.Product) *chain.ProductRecord {
	return &chain.ProductRecord{
		ID:          product.ProductID,
		Name:        product.Catalog.Name,
		Category:    product.Catalog.Category,
		ReleaseDate: product.Catalog.ReleaseDate,
		Description: product.Catalog.Description,
		Price:       models.PriceToMinorUnits(product.Catalog.Price),
		Stock:       bigFromInt(product.Catalog.Stock),
		Image:       product.Catalog.Image,
	}
}

func infoFromCatalog(product *models.Product) models.ProductInfo {
	return models.ProductInfo{
		ID:          product.ProductID,
		Name:        product.Catalog.Name,
		Category:    product.Catalog.Category,
		ReleaseDate: product.Catalog.ReleaseDate,
	}
}

func bigFromInt(n int) *big.Int {
	return big.NewInt(int64(n))
}

// recordsEqual compares the full tuple field by field, exact equality per
// field.
func recordsEqual(a, b *chain.ProductRecord) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Category == b.Category &&
		a.ReleaseDate == b.ReleaseDate &&
		a.Description == b.Description &&
		a.Price.Cmp(b.Price) == 0 &&
		a.Stock.Cmp(b.Stock) == 0 &&
		a.Image == b.Image
}
