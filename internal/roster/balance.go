package roster

import (
	"context"
	"errors"
	"time"

	"github.com/raidworks/raidbot/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreditBalance = "roster.credit_balance"
	opResetWeek     = "roster.reset_week"
)

// CreditBalance adds to a participant's ledger for a project. A row carrying
// a stale week tag is treated as already swept: the credit starts a fresh
// weekly total.
func (s *Service) CreditBalance(ctx context.Context, userID int64, username, projectName string, amount int64) error {
	week := currentWeek(s.clock)
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		var existing ProjectBalance
		err := tx.Where("user_id = ? AND project_name = ?", userID, projectName).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&ProjectBalance{
				UserID:      userID,
				ProjectName: projectName,
				Username:    username,
				Balance:     amount,
				Week:        week,
			}).Error
		}
		if err != nil {
			return err
		}

		balance := existing.Balance + amount
		if existing.Week != week {
			balance = amount
		}
		return tx.Model(&ProjectBalance{}).
			Where("user_id = ? AND project_name = ?", userID, projectName).
			Updates(map[string]interface{}{
				"username": username,
				"balance":  balance,
				"week":     week,
			}).Error
	})
	if txErr != nil {
		if errors.Is(txErr, database.ErrStoreBusy) {
			return txErr
		}
		s.logError(opCreditBalance, "balance_save_failed", txErr,
			zap.Int64("user_id", userID), zap.String("project", projectName))
		return newServiceError(opCreditBalance, "balance_save_failed", txErr)
	}
	return nil
}

// ProjectBalances returns the current week's ledger for a project, highest
// balance first.
func (s *Service) ProjectBalances(ctx context.Context, projectName string) ([]ProjectBalance, error) {
	var balances []ProjectBalance
	if err := s.db.WithContext(ctx).
		Where("project_name = ? AND week = ?", projectName, currentWeek(s.clock)).
		Order("balance DESC").
		Find(&balances).Error; err != nil {
		return nil, newServiceError("roster.project_balances", "query_failed", err)
	}
	return balances, nil
}

// ResetWeek is the scheduled weekly sweep: it zeroes every balance whose
// week tag is stale and stamps it with the current week. Returns how many
// rows were swept.
func (s *Service) ResetWeek(ctx context.Context) (int64, error) {
	week := currentWeek(s.clock)
	swept := int64(0)
	txErr := database.RunInTransaction(ctx, s.db, database.WritePolicy, func(tx *gorm.DB) error {
		result := tx.Model(&ProjectBalance{}).
			Where("week <> ?", week).
			Updates(map[string]interface{}{"balance": 0, "week": week})
		if result.Error != nil {
			return result.Error
		}
		swept = result.RowsAffected
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, database.ErrStoreBusy) {
			return 0, txErr
		}
		s.logError(opResetWeek, "balance_sweep_failed", txErr)
		return 0, newServiceError(opResetWeek, "balance_sweep_failed", txErr)
	}
	return swept, nil
}

// currentWeek folds the ISO year and week into one comparable tag.
func currentWeek(clock func() time.Time) int {
	year, week := clock().UTC().ISOWeek()
	return year*100 + week
}
