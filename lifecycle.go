package lightning

import (
	"context"
	"errors"
)

// DeleteAndUninstall uninstalls the package behind a module-sourced
// visualization type and deletes its record. A failed uninstall does not
// keep the record; it is returned wrapping ErrUninstall alongside any
// deletion error.
func (c *Catalog) DeleteAndUninstall(ctx context.Context, vt *VisualizationType) error {
	var uninstallErr error
	if vt.IsModule && vt.ModuleName != "" {
		uninstallErr = c.fetcher.UninstallModule(ctx, vt.ModuleName)
		if uninstallErr != nil {
			c.logger.Warn("uninstall failed, deleting record anyway", "module", vt.ModuleName, "err", uninstallErr)
		}
	}

	var deleteErr error
	if err := c.store.Delete(ctx, vt.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			deleteErr = err
		} else {
			deleteErr = &PersistenceError{Op: "delete", Name: vt.Name, Cause: err}
		}
	} else {
		c.logger.Info("visualization type deleted", "name", vt.Name, "id", vt.ID)
	}
	return errors.Join(uninstallErr, deleteErr)
}

// RefreshFromRegistry reinstalls the package behind vt and rebuilds its
// sample content, code examples, streaming flag and thumbnail. The id and
// name never change. vt is left untouched; the refreshed record is returned.
func (c *Catalog) RefreshFromRegistry(ctx context.Context, vt *VisualizationType) (*VisualizationType, error) {
	if !vt.IsModule || vt.ModuleName == "" {
		return nil, ErrNotModule
	}

	current := vt.Clone()
	job := c.moduleIngestion(vt.ModuleName, false, func(ctx context.Context, fresh *VisualizationType) error {
		fresh.ID = current.ID
		fresh.Name = current.Name
		fresh.Enabled = current.Enabled
		fresh.Imported = current.Imported
		if fresh.InitialDataFields == nil {
			fresh.InitialDataFields = current.InitialDataFields
		}
		if fresh.JavaScript == "" && fresh.Styles == "" && fresh.Markup == "" {
			fresh.JavaScript = current.JavaScript
			fresh.Styles = current.Styles
			fresh.Markup = current.Markup
		}
		if fresh.ThumbnailLocation == "" {
			fresh.ThumbnailLocation = current.ThumbnailLocation
		}

		err := c.store.Update(ctx, fresh)
		if err == nil || errors.Is(err, ErrDuplicateName) || errors.Is(err, ErrPersistence) || errors.Is(err, ErrNotFound) {
			return err
		}
		return &PersistenceError{Op: "update", Name: fresh.Name, Cause: err}
	})
	job.source = vt.ModuleName

	fresh, err := c.run(ctx, job)
	if err != nil {
		return nil, err
	}
	c.logger.Info("visualization type refreshed", "name", fresh.Name, "module", fresh.ModuleName)
	return fresh, nil
}
