package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/quarryfs/quarry/pkg/metastore"
	badgerstore "github.com/quarryfs/quarry/pkg/metastore/badger"
	"github.com/quarryfs/quarry/pkg/metastore/memory"
)

// CreateMetadataStore builds the metadata store selected by the
// configuration. The Type field picks the implementation; the matching
// option map is decoded into that implementation's config struct.
func CreateMetadataStore(cfg *MetadataConfig) (metastore.Store, error) {
	switch cfg.Type {
	case "badger":
		return createBadgerStore(cfg.Badger)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}

func createBadgerStore(options map[string]any) (metastore.Store, error) {
	var storeCfg badgerstore.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger metastore config: %w", err)
	}

	store, err := badgerstore.New(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger metastore: %w", err)
	}
	return store, nil
}
