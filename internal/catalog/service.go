package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/school-cart/internal/common"
	"github.com/noah-isme/school-cart/internal/pricing"
	"github.com/noah-isme/school-cart/internal/voucher"
)

// ErrStoreNotFound is returned when no document exists for a store id.
var ErrStoreNotFound = errors.New("store not found")

var storeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const indexFile = "index.json"

// reserved documents that live beside the store files
var reservedIDs = map[string]bool{"index": true, "cards": true}

// Service reads the site index and store documents from a directory of JSON
// files, optionally fronted by a Redis cache.
type Service struct {
	files      fs.FS
	cache      *Cache
	defaultGST decimal.Decimal
	logger     zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Files      fs.FS
	Cache      *Cache
	DefaultGST decimal.Decimal
	Logger     zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Files == nil {
		return nil, errors.New("catalog: files are required")
	}
	gst := cfg.DefaultGST
	if gst.IsNegative() {
		gst = decimal.Zero
	}
	return &Service{
		files:      cfg.Files,
		cache:      cfg.Cache,
		defaultGST: gst,
		logger:     cfg.Logger,
	}, nil
}

type siteDocument struct {
	Title         *string          `json:"title"`
	Classes       []string         `json:"classes"`
	Stores        []StoreSummary   `json:"stores"`
	GST           *decimal.Decimal `json:"gst"`
	DiscountCodes []voucher.Code   `json:"discountCodes"`
	DiscountCap   *voucher.Cap     `json:"discountCap"`
}

// Site returns the parsed site index.
func (s *Service) Site(ctx context.Context) (Site, error) {
	var cached Site
	if s.fromCache(ctx, siteKey(), &cached) {
		return cached, nil
	}

	raw, err := fs.ReadFile(s.files, indexFile)
	if err != nil {
		return Site{}, fmt.Errorf("read %s: %w", indexFile, err)
	}
	site, err := s.parseSite(raw)
	if err != nil {
		return Site{}, err
	}
	s.toCache(ctx, siteKey(), site)
	return site, nil
}

func (s *Service) parseSite(raw []byte) (Site, error) {
	site := Site{
		Title:         DefaultSiteTitle,
		Classes:       []string{},
		Stores:        []StoreSummary{},
		GST:           s.defaultGST,
		DiscountCodes: []voucher.Code{},
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		// legacy index: a bare list of stores
		if err := json.Unmarshal(trimmed, &site.Stores); err != nil {
			return Site{}, fmt.Errorf("decode %s: %w", indexFile, err)
		}
		return site, nil
	}

	var doc siteDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Site{}, fmt.Errorf("decode %s: %w", indexFile, err)
	}
	if doc.Title != nil && strings.TrimSpace(*doc.Title) != "" {
		site.Title = *doc.Title
	}
	if doc.Classes != nil {
		site.Classes = doc.Classes
	}
	if doc.Stores != nil {
		site.Stores = doc.Stores
	}
	if doc.GST != nil && !doc.GST.IsNegative() {
		site.GST = *doc.GST
	}
	if doc.DiscountCodes != nil {
		site.DiscountCodes = doc.DiscountCodes
	}
	site.DiscountCap = doc.DiscountCap
	return site, nil
}

// Stores lists the stores named in the site index.
func (s *Service) Stores(ctx context.Context) ([]StoreSummary, error) {
	site, err := s.Site(ctx)
	if err != nil {
		return nil, err
	}
	return site.Stores, nil
}

// Store loads the document for one store.
func (s *Service) Store(ctx context.Context, id string) (Store, error) {
	id = strings.TrimSpace(id)
	if !storeIDPattern.MatchString(id) || reservedIDs[id] {
		return Store{}, ErrStoreNotFound
	}
	var cached Store
	if s.fromCache(ctx, storeKey(id), &cached) {
		return cached, nil
	}

	raw, err := fs.ReadFile(s.files, id+".json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("read store %s: %w", id, err)
	}
	var store Store
	if err := json.Unmarshal(raw, &store); err != nil {
		return Store{}, fmt.Errorf("decode store %s: %w", id, err)
	}
	if store.ID == "" {
		store.ID = id
	}
	if store.Products == nil {
		store.Products = []pricing.Product{}
	}
	s.toCache(ctx, storeKey(id), store)
	return store, nil
}

// Registry builds the discount-code registry from the site index.
func (s *Service) Registry(ctx context.Context) (*voucher.Registry, error) {
	site, err := s.Site(ctx)
	if err != nil {
		return nil, err
	}
	return voucher.NewRegistry(site.DiscountCodes), nil
}

func (s *Service) fromCache(ctx context.Context, key string, dst any) bool {
	ok, err := s.cache.GetJSON(ctx, key, dst)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_read_failed")
		return false
	}
	return ok
}

func (s *Service) toCache(ctx context.Context, key string, v any) {
	if err := s.cache.SetJSON(ctx, key, v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_write_failed")
	}
}

func notFound(id string) *common.AppError {
	return &common.AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("Store %q not found", id),
		HTTPStatus: http.StatusNotFound,
		Err:        ErrStoreNotFound,
	}
}
