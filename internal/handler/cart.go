package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/verdandi/shop/internal/domain"
	"github.com/verdandi/shop/internal/service"
)

// CartHandler handles cart routes.
type CartHandler struct {
	carts service.CartService
}

// NewCartHandler creates a new cart handler.
func NewCartHandler(carts service.CartService) *CartHandler {
	return &CartHandler{carts: carts}
}

// Register mounts the cart routes on a group.
func (h *CartHandler) Register(g *echo.Group) {
	g.POST("/carts", h.Create)
	g.GET("/carts/:id", h.Get)
	g.POST("/carts/:id/items", h.AddItem)
	g.PUT("/carts/:id/items/:lineID", h.UpdateItem)
	g.DELETE("/carts/:id/items/:lineID", h.RemoveItem)
	g.DELETE("/carts/:id/items", h.Clear)
	g.POST("/carts/:id/coupon", h.ApplyCoupon)
	g.DELETE("/carts/:id/coupon", h.RemoveCoupon)
}

type createCartRequest struct {
	CustomerID string `json:"customer_id" validate:"omitempty,uuid"`
}

// Create handles POST /carts.
func (h *CartHandler) Create(c echo.Context) error {
	var req createCartRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	var customerID uuid.UUID
	if req.CustomerID != "" {
		customerID, _ = uuid.Parse(req.CustomerID)
	}

	cart, err := h.carts.CreateCart(c.Request().Context(), customerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cart)
}

// Get handles GET /carts/:id.
func (h *CartHandler) Get(c echo.Context) error {
	cartID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	summary, err := h.carts.GetCartSummary(c.Request().Context(), cartID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

type addItemRequest struct {
	ProductID     string `json:"product_id" validate:"required,uuid"`
	Quantity      int32  `json:"quantity" validate:"required,gt=0"`
	GiftWrap      bool   `json:"gift_wrap"`
	Customization string `json:"customization" validate:"omitempty,max=500"`
}

// AddItem handles POST /carts/:id/items.
func (h *CartHandler) AddItem(c echo.Context) error {
	cartID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req addItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	productID, _ := uuid.Parse(req.ProductID)

	line, err := h.carts.AddItem(c.Request().Context(), service.AddItemParams{
		CartID:        cartID,
		ProductID:     productID,
		Quantity:      req.Quantity,
		GiftWrap:      req.GiftWrap,
		Customization: req.Customization,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, line)
}

type updateItemRequest struct {
	Quantity int32 `json:"quantity" validate:"required,gt=0"`
}

// UpdateItem handles PUT /carts/:id/items/:lineID.
func (h *CartHandler) UpdateItem(c echo.Context) error {
	cartID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := pathUUID(c, "lineID")
	if err != nil {
		return err
	}
	var req updateItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := h.carts.UpdateItemQuantity(c.Request().Context(), cartID, lineID, req.Quantity); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveItem handles DELETE /carts/:id/items/:lineID.
func (h *CartHandler) RemoveItem(c echo.Context) error {
	cartID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := pathUUID(c, "lineID")
	if err != nil {
		return err
	}

	if err := h.carts.RemoveItem(c.Request().Context(), cartID, lineID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Clear handles DELETE /carts/:id/items.
func (h *CartHandler) Clear(c echo.Context) error {
	cartID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.carts.ClearCart(c.Request().Context(), cartID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// ApplyCoupon handles POST /carts/:id/coupon.
func (h *CartHandler) ApplyCoupon(c echo.Context) error {
	cartID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var req applyCouponRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := h.carts.ApplyCoupon(c.Request().Context(), cartID, req.Code); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RemoveCoupon handles DELETE /carts/:id/coupon.
func (h *CartHandler) RemoveCoupon(c echo.Context) error {
	cartID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.carts.RemoveCoupon(c.Request().Context(), cartID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// bind decodes and validates a JSON request body.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return domain.Invalid("request.bind", "malformed request body")
	}
	return c.Validate(req)
}

// pathUUID parses a UUID path parameter.
func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, domain.Invalid("request.path", name+" must be a valid UUID")
	}
	return id, nil
}
