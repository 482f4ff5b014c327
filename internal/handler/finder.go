package handler

import (
	"context"

	"github.com/hadijannat/titan-aas/internal/store"
)

// shellFinder dispatches List requests for the /shells namespace to
// ShellStore's globalAssetId/specificAssetId secondary-index finders,
// per spec.md §6's registry discovery query parameters.
func shellFinder(shells store.ShellStore) func(ctx context.Context, query map[string][]string, opts store.ListOptions) (*store.ListPage, bool, error) {
	return func(ctx context.Context, query map[string][]string, opts store.ListOptions) (*store.ListPage, bool, error) {
		if v := first(query, "globalAssetId"); v != "" {
			page, err := shells.FindByGlobalAssetID(ctx, v, opts)
			return page, true, err
		}
		name, value := first(query, "specificAssetName"), first(query, "specificAssetValue")
		if name != "" && value != "" {
			page, err := shells.FindBySpecificAssetID(ctx, name, value, opts)
			return page, true, err
		}
		return nil, false, nil
	}
}

// submodelFinder dispatches List requests for the /submodels namespace to
// SubmodelStore's semanticId secondary-index finder.
func submodelFinder(submodels store.SubmodelStore) func(ctx context.Context, query map[string][]string, opts store.ListOptions) (*store.ListPage, bool, error) {
	return func(ctx context.Context, query map[string][]string, opts store.ListOptions) (*store.ListPage, bool, error) {
		if v := first(query, "semanticId"); v != "" {
			page, err := submodels.FindBySemanticID(ctx, v, opts)
			return page, true, err
		}
		return nil, false, nil
	}
}

// conceptDescriptionFinder dispatches List requests for the
// /concept-descriptions namespace to ConceptDescriptionStore's
// idShort/isCaseOf/dataSpecification secondary-index finders. The three
// parameters are mutually exclusive; idShort is checked first since it is
// the most common discovery query against this namespace.
func conceptDescriptionFinder(cds store.ConceptDescriptionStore) func(ctx context.Context, query map[string][]string, opts store.ListOptions) (*store.ListPage, bool, error) {
	return func(ctx context.Context, query map[string][]string, opts store.ListOptions) (*store.ListPage, bool, error) {
		if v := first(query, "idShort"); v != "" {
			page, err := cds.FindByIDShort(ctx, v, opts)
			return page, true, err
		}
		if v := first(query, "isCaseOf"); v != "" {
			page, err := cds.FindByIsCaseOf(ctx, v, opts)
			return page, true, err
		}
		if v := first(query, "dataSpecificationRef"); v != "" {
			page, err := cds.FindByDataSpecification(ctx, v, opts)
			return page, true, err
		}
		return nil, false, nil
	}
}

func first(query map[string][]string, key string) string {
	vs := query[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}
