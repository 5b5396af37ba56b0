package broker

import "github.com/tesp-cosim/cosim/fed"

func init() {
	factory := func(opts fed.CoreOptions) (fed.Core, error) {
		b, err := New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	fed.RegisterCoreFactory(fed.CoreInproc, factory)
	fed.RegisterCoreFactory(fed.CoreTest, factory)
}
