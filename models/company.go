package models

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/tallysync_backend/config"
	"gorm.io/gorm"
)

var validate = validator.New()

// Company is one configured Tally account: where to reach it and how
// often to sync. The sync engine only reads it and writes last_synced_at;
// everything else is owned by the CRUD layer.
type Company struct {
	ID                  uint       `gorm:"primary_key" json:"id"`
	Name                string     `gorm:"size:200;not null" json:"name"`
	TallyCompanyName    string     `gorm:"size:200;not null" json:"tally_company_name"`
	Host                string     `gorm:"size:100;not null;default:localhost" json:"host"`
	Port                int        `gorm:"not null;default:9000" json:"port"`
	IsActive            bool       `gorm:"not null;default:true" json:"is_active"`
	SyncIntervalMinutes int        `gorm:"not null;default:5" json:"sync_interval_minutes"`
	LastSyncedAt        *time.Time `json:"last_synced_at"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCompany struct {
	Name                string `json:"name" validate:"required,max=200"`
	TallyCompanyName    string `json:"tally_company_name" validate:"required,max=200"`
	Host                string `json:"host" validate:"required,max=100"`
	Port                int    `json:"port" validate:"required,min=1,max=65535"`
	IsActive            *bool  `json:"is_active"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes" validate:"required,min=1,max=1440"`
}

func CreateCompany(ctx context.Context, input *NewCompany) (*Company, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	company := Company{
		Name:                input.Name,
		TallyCompanyName:    input.TallyCompanyName,
		Host:                input.Host,
		Port:                input.Port,
		IsActive:            active,
		SyncIntervalMinutes: input.SyncIntervalMinutes,
	}
	if err := config.GetDB().WithContext(ctx).Create(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func UpdateCompany(ctx context.Context, id uint, input *NewCompany) (*Company, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	company, err := GetCompanyById(ctx, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, errors.New("company not found")
	}
	active := company.IsActive
	if input.IsActive != nil {
		active = *input.IsActive
	}
	updates := map[string]interface{}{
		"name":                  input.Name,
		"tally_company_name":    input.TallyCompanyName,
		"host":                  input.Host,
		"port":                  input.Port,
		"is_active":             active,
		"sync_interval_minutes": input.SyncIntervalMinutes,
	}
	if err := config.GetDB().WithContext(ctx).Model(company).Updates(updates).Error; err != nil {
		return nil, err
	}
	return GetCompanyById(ctx, id)
}

// DeleteCompany removes the company and, via FK cascade, its cached stock
// items, ledgers, vouchers and sync logs.
func DeleteCompany(ctx context.Context, id uint) error {
	return config.GetDB().WithContext(ctx).Delete(&Company{}, id).Error
}

func GetCompanyById(ctx context.Context, id uint) (*Company, error) {
	var company Company
	err := config.GetDB().WithContext(ctx).Where("id = ?", id).Take(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

func ListCompanies(ctx context.Context) ([]Company, error) {
	var companies []Company
	err := config.GetDB().WithContext(ctx).Order("id").Find(&companies).Error
	return companies, err
}

func ListActiveCompanies(ctx context.Context) ([]Company, error) {
	var companies []Company
	err := config.GetDB().WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&companies).Error
	return companies, err
}

func TouchCompanyLastSynced(ctx context.Context, id uint, syncedAt time.Time) error {
	return config.GetDB().WithContext(ctx).
		Model(&Company{}).
		Where("id = ?", id).
		Update("last_synced_at", syncedAt).Error
}
