package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
)

var errForbidden = store.Errorf(store.ErrForbidden, "you do not have access to this resource")

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := service.ActorFromContext(r.Context())
	return actor
}

func canStaff(actor domain.Actor, storeID string) bool {
	return actor.IsAdmin || actor.StaffOf(storeID)
}

func canOwn(actor domain.Actor, storeID string) bool {
	return actor.IsAdmin || actor.OwnerOf(storeID)
}

func (a *API) handleListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := a.service.ListStores(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (a *API) handleGetStore(w http.ResponseWriter, r *http.Request) {
	st, err := a.service.GetStore(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleStoreOpen(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.writeServiceError(w, r, store.Invalid("at must be an RFC 3339 timestamp"))
			return
		}
		at = parsed
	}
	storeID := chi.URLParam(r, "storeID")
	open, err := a.service.IsStoreOpen(r.Context(), storeID, at)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store_id": storeID,
		"at":       at.Format(time.RFC3339),
		"open":     open,
	})
}

func (a *API) handleCreateStore(w http.ResponseWriter, r *http.Request) {
	var req domain.StoreCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	st, err := a.service.CreateStore(r.Context(), actorFrom(r).ID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (a *API) handleUpdateStore(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canOwn(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	var req domain.StoreUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	st, err := a.service.UpdateStore(r.Context(), storeID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleAssignOwner(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsAdmin {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	var req domain.StaffAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.AssignOwner(r.Context(), chi.URLParam(r, "storeID"), req.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleAddCashier(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canOwn(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	var req domain.StaffAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.AddCashier(r.Context(), storeID, req.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canStaff(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	staff, err := a.service.ListStaff(r.Context(), storeID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, staff)
}

func (a *API) handleRemoveStaff(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canOwn(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	user, err := a.service.RemoveStaff(r.Context(), storeID, chi.URLParam(r, "userID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	includeHidden := r.URL.Query().Get("include_hidden") == "true" && canStaff(actorFrom(r), storeID)
	products, err := a.service.ListProducts(r.Context(), storeID, includeHidden)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if p.Hidden && !canStaff(actorFrom(r), p.StoreID) {
		a.writeServiceError(w, r, store.NotFound("product"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canOwn(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.StoreID = storeID
	p, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ownedProduct loads a product and checks the caller owns its store.
func (a *API) ownedProduct(w http.ResponseWriter, r *http.Request, productID string) (domain.Product, bool) {
	p, err := a.service.GetProduct(r.Context(), productID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return domain.Product{}, false
	}
	if !canOwn(actorFrom(r), p.StoreID) {
		a.writeServiceError(w, r, errForbidden)
		return domain.Product{}, false
	}
	return p, true
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if _, ok := a.ownedProduct(w, r, productID); !ok {
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	p, err := a.service.UpdateProduct(r.Context(), productID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if _, ok := a.ownedProduct(w, r, productID); !ok {
		return
	}
	anonymized, err := a.service.DeleteProduct(r.Context(), productID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         productID,
		"deleted":    true,
		"anonymized": anonymized,
	})
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.UserID = actorFrom(r).ID
	order, err := a.service.CreateOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.service.ListOrders(r.Context(), domain.OrderFilter{
		UserID: actorFrom(r).ID,
		Status: domain.OrderStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *API) handleStoreOrders(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canStaff(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	orders, err := a.service.ListOrders(r.Context(), domain.OrderFilter{
		StoreID: storeID,
		Status:  domain.OrderStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// visibleOrder loads an order the caller placed or staffs the store of.
func (a *API) visibleOrder(w http.ResponseWriter, r *http.Request, staffOnly bool) (domain.Order, bool) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return domain.Order{}, false
	}
	actor := actorFrom(r)
	allowed := canStaff(actor, order.StoreID) || (!staffOnly && order.UserID != "" && order.UserID == actor.ID)
	if !allowed {
		a.writeServiceError(w, r, errForbidden)
		return domain.Order{}, false
	}
	return order, true
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := a.visibleOrder(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleAdvanceOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := a.visibleOrder(w, r, true)
	if !ok {
		return
	}
	updated, sale, err := a.service.AdvanceStatus(r.Context(), order.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order": updated,
		"sale":  sale,
	})
}

// buyerMayChange limits buyers to their pending orders; staff keep the
// service's wider rules.
func buyerMayChange(actor domain.Actor, order domain.Order) bool {
	return canStaff(actor, order.StoreID) || order.Status == domain.OrderStatusPending
}

func (a *API) handleUpdateOrderItems(w http.ResponseWriter, r *http.Request) {
	order, ok := a.visibleOrder(w, r, false)
	if !ok {
		return
	}
	if !buyerMayChange(actorFrom(r), order) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	var req domain.OrderItemsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	updated, err := a.service.UpdateLineItems(r.Context(), order.ID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := a.visibleOrder(w, r, false)
	if !ok {
		return
	}
	if !buyerMayChange(actorFrom(r), order) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	cancelled, err := a.service.CancelOrder(r.Context(), order.ID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if !canStaff(actorFrom(r), req.StoreID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleMySales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context(), domain.SaleFilter{UserID: actorFrom(r).ID})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleStoreSales(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canStaff(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	sales, err := a.service.ListSales(r.Context(), domain.SaleFilter{StoreID: storeID})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	actor := actorFrom(r)
	if !canStaff(actor, sale.StoreID) && (sale.UserID == "" || sale.UserID != actor.ID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleStorePoints(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	if !canStaff(actorFrom(r), storeID) {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	entries, err := a.service.ListPoints(r.Context(), storeID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleMyBalance(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.GetBalanceOrNotFound(r.Context(), actorFrom(r).ID, chi.URLParam(r, "storeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req domain.RedeemRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		a.writeServiceError(w, r, store.Invalid("product_id is required"))
		return
	}
	sale, balance, err := a.service.RedeemForProduct(r.Context(), actorFrom(r).ID, req.ProductID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sale":    sale,
		"balance": balance,
	})
}

func (a *API) handleListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := a.service.ListDiscounts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, discounts)
}

func (a *API) handleProductDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := a.service.GetActiveDiscount(r.Context(), chi.URLParam(r, "productID"), true)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleCreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if _, ok := a.ownedProduct(w, r, req.ProductID); !ok {
		return
	}
	d, err := a.service.CreateDiscount(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleDeleteDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := a.service.GetDiscount(r.Context(), chi.URLParam(r, "discountID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if _, ok := a.ownedProduct(w, r, d.ProductID); !ok {
		return
	}
	if err := a.service.DeleteDiscount(r.Context(), d.ID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	a.deleteUser(w, r, actorFrom(r).ID)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).IsAdmin {
		a.writeServiceError(w, r, errForbidden)
		return
	}
	a.deleteUser(w, r, chi.URLParam(r, "userID"))
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, userID string) {
	anonymized, err := a.service.DeleteUser(r.Context(), userID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         userID,
		"anonymized": anonymized,
	})
}

func (a *API) handleListReviews(w http.ResponseWriter, r *http.Request) {
	a.listReviews(w, r, domain.ReviewFilter{
		StoreID: r.URL.Query().Get("store_id"),
		UserID:  r.URL.Query().Get("user_id"),
	})
}

func (a *API) handleStoreReviews(w http.ResponseWriter, r *http.Request) {
	a.listReviews(w, r, domain.ReviewFilter{StoreID: chi.URLParam(r, "storeID")})
}

func (a *API) handleUserReviews(w http.ResponseWriter, r *http.Request) {
	a.listReviews(w, r, domain.ReviewFilter{UserID: chi.URLParam(r, "userID")})
}

func (a *API) listReviews(w http.ResponseWriter, r *http.Request, filter domain.ReviewFilter) {
	reviews, err := a.service.ListReviews(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (a *API) handleGetReview(w http.ResponseWriter, r *http.Request) {
	review, err := a.service.GetReview(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (a *API) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req domain.ReviewCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.UserID = actorFrom(r).ID
	review, err := a.service.CreateReview(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (a *API) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")
	if err := a.service.DeleteReview(r.Context(), actorFrom(r), reviewID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
