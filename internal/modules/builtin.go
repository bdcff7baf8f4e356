// Package modules wires the modules shipped with the CMS into a catalog.
package modules

import (
	"github.com/hashicorp/go-multierror"

	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/modules/admin"
	"github.com/Guillaume29200/esport-cms/internal/modules/auth"
	"github.com/Guillaume29200/esport-cms/internal/modules/news"
	"github.com/Guillaume29200/esport-cms/internal/modules/premium"
)

type builtin struct {
	desc    func() module.Descriptor
	factory module.Factory
}

var builtins = []builtin{
	{auth.Descriptor, auth.New},
	{admin.Descriptor, admin.New},
	{premium.Descriptor, premium.New},
	{news.Descriptor, news.New},
}

// Register adds every built-in module to c.
func Register(c *module.Catalog) error {
	var errs *multierror.Error
	for _, b := range builtins {
		if err := c.Register(b.desc(), b.factory); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Catalog returns a fresh catalog holding the built-in modules.
func Catalog() (*module.Catalog, error) {
	c := module.NewCatalog()
	if err := Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

func init() {
	if err := Register(module.Default); err != nil {
		panic(err)
	}
}
