package migration

import (
	configdomain "github.com/mokanda/livraly/internal/billingconfig/domain"
	invoicedomain "github.com/mokanda/livraly/internal/invoice/domain"
	ledgerdomain "github.com/mokanda/livraly/internal/ledger/domain"
	recurringdomain "github.com/mokanda/livraly/internal/recurring/domain"
	royaltydomain "github.com/mokanda/livraly/internal/royalty/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() != "postgres" {
			// Development databases migrate from the models directly.
			return conn.AutoMigrate(
				&invoicedomain.BillingAccount{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceItem{},
				&ledgerdomain.PaymentTransaction{},
				&configdomain.Entry{},
				&recurringdomain.Subscription{},
				&royaltydomain.AuthorRoyalty{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
